// Package relay connects the command queue to MQTT.
//
// It has three jobs:
//
//   - Lifecycle events observed on the queue are published, one message per
//     transition, to {prefix}/command/{id}/{event}.
//   - Producers may enqueue by publishing to {prefix}/ingress; the outcome is
//     acknowledged on {prefix}/ingress/ack, correlated by request_id.
//   - Queue counts are published, retained, to {prefix}/queue/stats on a
//     fixed interval.
//
// Publishing runs on a single worker goroutine fed by a bounded buffer, so
// the queue never waits on the broker. When the buffer is full, events are
// dropped and counted.
package relay
