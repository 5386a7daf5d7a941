// Package flows contains the request flows behind every Engine operation.
//
// Each flow function (RunSendOTP, RunLogin, RunRefresh, etc.) accepts a typed
// dependency struct and returns results without side-effects beyond those
// dependencies. Stores, codecs and notifiers are reached through small
// interfaces or function fields so flows can be tested with in-memory fakes.
//
// # Architecture boundaries
//
// Flow functions coordinate the OTP store, session store, token codec,
// limiters, audit and metrics. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goIdentity (to avoid import cycles). Host errors are injected.
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
