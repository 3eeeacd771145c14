// Package api implements the HTTP status and control API of the watcher.
//
// This package provides:
//   - Read endpoints for the instance catalog, transition logs and the
//     not-operating aggregate
//   - On/off commands routed through the watcher's control executor
//   - A health endpoint backed by the infrastructure health checks
//   - The Prometheus scrape endpoint and a JSON system summary
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Architecture
//
// The store stays the primary publication channel; the API is an operator
// surface next to it. Every handler reads copies from the watcher, so a slow
// client never holds a watcher lock.
package api
