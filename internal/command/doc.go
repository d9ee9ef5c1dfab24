// Package command implements the command broker's queue.
//
// A producer enqueues automation commands (click, input, scroll, wait) and
// consumers poll for the next pending one, execute it, and report the outcome.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────┐
//	│                  Queue (queue.go)                     │
//	│  one mutex, ordered collection, state machine         │
//	│  ┌──────────────────┐    ┌────────────────────────┐  │
//	│  │ RetentionPolicy  │    │ Store (store.go)        │  │
//	│  │ (retention.go)   │    │ pending subset only     │  │
//	│  └──────────────────┘    └────────────────────────┘  │
//	│        │                                              │
//	│        ▼                                              │
//	│  Observers: MQTT, InfluxDB, audit trail, WebSocket    │
//	└──────────────────────────────────────────────────────┘
//
// # State Machine
//
//	pending ──dequeue──▶ processing ──complete(true)──▶ completed
//	                          │
//	                          ├──complete(false)──▶ failed
//	                          └──timeout (sweep)──▶ failed
//
// completed and failed are terminal. Every public Queue method runs a
// retention sweep first, inside the same critical section, so callers never
// observe commands that should already be evicted or reclassified.
//
// # Durability
//
// Only pending commands are persisted. They are written in full after every
// mutation and re-created with new identities on restart.
//
// # Usage
//
//	store, err := command.OpenFileStore(cfg.Queue.PersistencePath)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	queue := command.NewQueue(store,
//	    command.WithRetention(policy),
//	    command.WithLogger(log),
//	)
//	if _, err := queue.Restore(ctx); err != nil {
//	    return err
//	}
//
//	id, err := queue.Enqueue(ctx, command.TypeClick, "#submit", nil)
package command
