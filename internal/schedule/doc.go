// Package schedule arms recurring triggers for scheduled instances.
//
// Expressions are cron rules as used by ioBroker: five fields, an optional
// leading seconds field, or a descriptor such as "@daily". Parsing and
// next-fire computation use github.com/robfig/cron/v3; timers run on an
// injected clock so tests can drive them.
//
// After each expected run the Manager waits a post-fire delay, giving the
// job time to start and emit its heartbeat, and then calls its Trigger.
package schedule
