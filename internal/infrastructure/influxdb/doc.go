// Package influxdb provides InfluxDB connectivity for the instance watcher.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring. The watcher records
// every evaluation result and every change of the aggregate view so
// operators can chart availability over time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteInstanceStatus("sonos.0", "daemon", true, true, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a callback.
// Connection and health check errors are returned directly.
package influxdb
