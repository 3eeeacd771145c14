// Package watcher wires store notifications through debounce, evaluation
// and the transition logs to the published status states.
//
// # Published states
//
// All states are written with ack=true under the configured namespace,
// e.g. "instance-watch.0":
//
//	instances.<id>.isOperating   bool
//	instances.<id>.enabled       bool
//	instances.<id>.on            bool, true while enabled
//	instances.<id>.off           bool, true while disabled
//	instances.<id>.mode          string
//	instances.<id>.schedule      string, scheduled instances only
//	instances.<id>.log           JSON list, if the per-instance log is enabled
//	info.enabledNotOperatingCount
//	info.enabledNotOperatingList  JSON list of ids
//	info.enabledNotOperatingLog   JSON list, if the summary log is enabled
//	info.updatedDate              milliseconds since the Unix epoch
//
// # Commands
//
// Writes with ack=false to instances.<id>.on, .off or .enabled switch the
// instance through the control executor.
//
// # Concurrency
//
// Evaluations of one instance never overlap; different instances evaluate
// concurrently. Updates of the transition logs and the not-operating list,
// their persistence and the aggregate states are serialised by one lock.
package watcher
