package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// ErrEntropyUnavailable is returned when the configured randomness source fails.
// Callers treat it as a fatal configuration problem, not a retryable condition.
var ErrEntropyUnavailable = errors.New("entropy source unavailable")

const (
	DefaultCodeDigits = 6
	MinCodeDigits     = 4
	MaxCodeDigits     = 10
)

// CodeGenerator produces fixed-length decimal one-time codes.
//
// A zero Reader means crypto/rand. The generator is a plain value owned by whoever
// constructed it; there is no package-level instance.
type CodeGenerator struct {
	Digits int
	Reader io.Reader
}

// NewCodeGenerator returns a generator for codes of the given length.
func NewCodeGenerator(digits int) (*CodeGenerator, error) {
	if digits == 0 {
		digits = DefaultCodeDigits
	}
	if digits < MinCodeDigits || digits > MaxCodeDigits {
		return nil, fmt.Errorf("invalid otp digits: %d", digits)
	}
	return &CodeGenerator{Digits: digits}, nil
}

// Generate returns a uniformly random decimal string of g.Digits characters.
func (g *CodeGenerator) Generate() (string, error) {
	digits := g.Digits
	if digits == 0 {
		digits = DefaultCodeDigits
	}
	reader := g.Reader
	if reader == nil {
		reader = rand.Reader
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(reader, ten)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// NewID returns a random opaque identifier for challenges and sessions.
func NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return id.String(), nil
}

// HashCode returns the digest under which an OTP code is stored.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
