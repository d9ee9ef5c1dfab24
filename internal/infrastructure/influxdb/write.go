package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by cmdbroker.
const (
	MeasurementQueueDepth   = "queue_depth"
	MeasurementCommandEvent = "command_event"
)

// QueueDepth is a point-in-time count of commands per status.
type QueueDepth struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// WriteQueueDepth records the number of commands held in each status.
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteQueueDepth(d QueueDepth) {
	c.WritePoint(MeasurementQueueDepth, nil, map[string]interface{}{
		"pending":    d.Pending,
		"processing": d.Processing,
		"completed":  d.Completed,
		"failed":     d.Failed,
		"total":      d.Pending + d.Processing + d.Completed + d.Failed,
	})
}

// WriteCommandEvent records one lifecycle transition.
//
// Parameters:
//   - event: lifecycle event name (e.g. "dispatched", "timed_out")
//   - commandType: click, input, scroll or wait
//   - age: time since the command was created
//   - at: when the transition happened
//
// Example:
//
//	client.WriteCommandEvent("completed", "click", 1200*time.Millisecond, time.Now())
func (c *Client) WriteCommandEvent(event, commandType string, age time.Duration, at time.Time) {
	c.WritePointWithTime(MeasurementCommandEvent,
		map[string]string{
			"event": event,
			"type":  commandType,
		},
		map[string]interface{}{
			"count":  1,
			"age_ms": age.Milliseconds(),
		},
		at,
	)
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("http_requests",
//	    map[string]string{"route": "/command"},
//	    map[string]interface{}{"count": 1})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
