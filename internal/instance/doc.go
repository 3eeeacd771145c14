// Package instance holds the catalog of watched adapter instances.
//
// The catalog is built once at startup by Discover from the instance objects
// in the store. It is filtered by supported mode, the watcher's own id and an
// operator-supplied exclusion list. It is owned by the watcher and shared by
// handle; other components read copies via Get and Snapshot and mutate
// through Update.
//
// # Modes
//
// An instance runs in one of two supported modes:
//
//   - ModePersistent ("daemon"): expected to run continuously
//   - ModeScheduled ("schedule"): started periodically by a cron expression
//
// Every other mode maps to ModeUnsupported and is skipped by Discover.
package instance
