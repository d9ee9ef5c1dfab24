// Package influxdb provides InfluxDB connectivity for cmdbroker.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, metric writing and health monitoring.
//
// # Measurements
//
//   - queue_depth: pending/processing/completed/failed counts, sampled on a ticker
//   - command_event: one point per lifecycle transition, tagged by event and type
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteQueueDepth(influxdb.QueueDepth{Pending: 3})
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered through the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
