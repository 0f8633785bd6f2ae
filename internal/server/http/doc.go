// Package httpserver exposes the chat runtime over a small JSON HTTP API:
// health, chat lifecycle, membership, message mutations, reactions, and
// range reads with an optional CEL filter. Prometheus metrics are served
// on /metrics.
package httpserver
