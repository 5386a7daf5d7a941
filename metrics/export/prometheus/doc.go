// Package prometheus renders goIdentity engine metrics in the Prometheus text
// exposition format. Mount [Exporter.Handler] on the scrape path. Nothing is
// registered globally.
package prometheus
