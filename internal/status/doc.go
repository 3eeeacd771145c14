// Package status decides whether a watched instance is operating.
//
// The evaluator only reads from the store. For persistent instances it
// walks the signal chain enabled, alive, connected to host and, if the
// instance exposes one, connected to its service. The first false signal
// ends the chain. For scheduled instances it compares the last heartbeat
// with the previous expected run of the cron schedule and accepts a lag up
// to the drift tolerance.
//
// A missing or malformed read aborts the pass with an EvaluationError; the
// caller keeps the previous operating value.
package status
