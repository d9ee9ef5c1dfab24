// Package mqtt provides MQTT client connectivity for cmdbroker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees
//   - Topic subscriptions restored across reconnects
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// Every topic lives under a configurable prefix (default "cmdbroker"):
//
//	cmdbroker/system/status            retained online/offline
//	cmdbroker/command/{id}/{event}     lifecycle events
//	cmdbroker/queue/stats              retained queue depth
//	cmdbroker/ingress                  producers publish new commands
//	cmdbroker/ingress/ack              enqueue results
//
// MQTT is optional. The HTTP API remains the primary interface; the relay
// package mirrors queue activity onto the bus when mqtt.enabled is true.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := client.Topics().CommandEvent(id, "completed")
//	client.Publish(topic, payload, 1, false)
package mqtt
