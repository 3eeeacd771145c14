package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the watcher.
const (
	measurementInstanceStatus = "instance_status"
	measurementWatcherSummary = "watcher_summary"
)

// WriteInstanceStatus records the outcome of one evaluation pass.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Booleans are written as 0/1 integers so they can be aggregated.
//
// Parameters:
//   - instanceID: Watched instance id (e.g., "sonos.0")
//   - mode: Execution mode ("daemon", "schedule", ...)
//   - enabled: Whether the instance is enabled
//   - operating: Derived operating status
//   - at: Evaluation time
//
// Example:
//
//	client.WriteInstanceStatus("sonos.0", "daemon", true, false, time.Now())
func (c *Client) WriteInstanceStatus(instanceID, mode string, enabled, operating bool, at time.Time) {
	c.writePoint(
		measurementInstanceStatus,
		map[string]string{
			"instance": instanceID,
			"mode":     mode,
		},
		map[string]interface{}{
			"enabled":   boolToInt(enabled),
			"operating": boolToInt(operating),
		},
		at,
	)
}

// WriteSummary records the aggregate view after it changes.
//
// Parameters:
//   - notOperating: Number of enabled instances that are not operating
//   - total: Number of watched instances
//   - at: Time of the change
func (c *Client) WriteSummary(notOperating, total int, at time.Time) {
	c.writePoint(
		measurementWatcherSummary,
		nil,
		map[string]interface{}{
			"enabled_not_operating": notOperating,
			"instances":             total,
		},
		at,
	)
}

// writePoint queues a point; it is dropped while disconnected or closed.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
