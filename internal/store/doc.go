// Package store defines the view of the ioBroker object/state database
// consumed by the watcher.
//
// Two kinds of records exist:
//   - states: small values with an acknowledgement flag and a timestamp,
//     e.g. system.adapter.sonos.0.alive
//   - objects: definitions, e.g. the instance object system.adapter.sonos.0
//     whose common section carries enabled, mode and schedule
//
// Implementations live in the mqttstore, redisstore and memstore
// subpackages.
package store
