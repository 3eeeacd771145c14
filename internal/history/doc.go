// Package history keeps the bounded transition logs of watched instances.
//
// A log is an ordered list of entries, newest first. An entry is appended
// only when the status of an instance changes from its most recent entry,
// or when an instance is first seen not operating. Logs are capped at a
// configured length by dropping the oldest entries; a limit of 0 disables
// the log.
//
// The Book holds the summary log (all instances) and one log per instance.
// Logs are persisted per target through a Repository so they survive
// restarts.
package history
