package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/cmdbroker/internal/command"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/mqtt"
)

// DefaultBufferSize is the number of outbound events held while the
// publisher catches up.
const DefaultBufferSize = 512

// Broker is the subset of the MQTT client the relay needs.
// *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Queue is the subset of command.Queue the relay needs.
type Queue interface {
	Enqueue(ctx context.Context, typ command.Type, target string, params map[string]any) (string, error)
	Stats(ctx context.Context) command.Stats
}

// Logger defines the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds relay configuration.
type Config struct {
	Broker Broker
	Queue  Queue
	Topics mqtt.Topics

	// QoS for event and ack messages.
	QoS byte

	// Ingress subscribes to the ingress topic when true.
	Ingress bool

	// StatsInterval is how often queue stats are published. 0 disables it.
	StatsInterval time.Duration

	// BufferSize bounds the outbound event buffer. Default: DefaultBufferSize.
	BufferSize int

	Logger Logger
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Relay publishes queue activity to MQTT and accepts commands from it.
type Relay struct {
	broker        Broker
	queue         Queue
	topics        mqtt.Topics
	qos           byte
	ingress       bool
	statsInterval time.Duration
	logger        Logger

	out     chan outbound
	dropped atomic.Uint64

	// Shutdown coordination (stopOnce prevents double-close panics)
	ctx       context.Context //nolint:containedctx // Relay-scoped context for ingress enqueues
	ctxCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	started   atomic.Bool
}

// New creates a relay. Call Start to begin publishing.
func New(cfg Config) (*Relay, error) {
	if cfg.Broker == nil {
		return nil, errors.New("relay: broker is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("relay: queue is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Relay{
		broker:        cfg.Broker,
		queue:         cfg.Queue,
		topics:        cfg.Topics,
		qos:           cfg.QoS,
		ingress:       cfg.Ingress,
		statsInterval: cfg.StatsInterval,
		logger:        cfg.Logger,
		out:           make(chan outbound, cfg.BufferSize),
		done:          make(chan struct{}),
	}, nil
}

// Start subscribes to ingress (when enabled) and starts the publish worker
// and stats loop.
func (r *Relay) Start(ctx context.Context) error {
	r.ctx, r.ctxCancel = context.WithCancel(ctx)

	if r.ingress {
		topic := r.topics.Ingress()
		if err := r.broker.Subscribe(topic, r.qos, r.handleIngress); err != nil {
			r.ctxCancel()
			return fmt.Errorf("subscribe to ingress: %w", err)
		}
		r.logger.Info("subscribed to ingress", "topic", topic)
	}

	r.wg.Add(1)
	go r.publishLoop()

	if r.statsInterval > 0 {
		r.wg.Add(1)
		go r.statsLoop()
	}

	r.started.Store(true)
	return nil
}

// Stop unsubscribes, flushes buffered events and waits for the workers.
// Safe to call multiple times.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		if !r.started.Load() {
			return
		}
		if r.ingress {
			if err := r.broker.Unsubscribe(r.topics.Ingress()); err != nil {
				r.logger.Debug("ingress unsubscribe failed", "error", err)
			}
		}

		close(r.done)
		r.ctxCancel()
		r.wg.Wait()

		r.logger.Info("relay stopped", "dropped_events", r.Dropped())
	})
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// OnCommandEvent implements command.Observer. It never blocks.
func (r *Relay) OnCommandEvent(ev command.Event) {
	msg := EventMessage{
		Event:   string(ev.Type),
		Command: ev.Command.Record(),
		At:      ev.At.UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to encode command event", "command_id", ev.Command.ID, "error", err)
		return
	}

	r.enqueueOutbound(outbound{
		topic:   r.topics.CommandEvent(ev.Command.ID, string(ev.Type)),
		payload: payload,
	})
}

func (r *Relay) enqueueOutbound(o outbound) {
	select {
	case r.out <- o:
	default:
		r.dropped.Add(1)
		r.logger.Warn("relay buffer full, dropping message", "topic", o.topic)
	}
}

// publishLoop sends buffered messages until Stop, then flushes what is left.
func (r *Relay) publishLoop() {
	defer r.wg.Done()

	for {
		select {
		case o := <-r.out:
			r.publish(o)
		case <-r.done:
			for {
				select {
				case o := <-r.out:
					r.publish(o)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) publish(o outbound) {
	if err := r.broker.Publish(o.topic, o.payload, r.qos, o.retained); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			r.logger.Debug("mqtt not connected, event not published", "topic", o.topic)
			return
		}
		r.logger.Warn("failed to publish", "topic", o.topic, "error", err)
	}
}

// statsLoop publishes retained queue counts on every tick.
func (r *Relay) statsLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.statsInterval)
	defer ticker.Stop()

	r.PublishStats()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.PublishStats()
		}
	}
}

// PublishStats publishes the current queue counts immediately.
func (r *Relay) PublishStats() {
	if !r.broker.IsConnected() {
		return
	}

	msg := StatsMessage{
		Stats:     r.queue.Stats(r.context()),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to encode queue stats", "error", err)
		return
	}

	r.enqueueOutbound(outbound{topic: r.topics.QueueStats(), payload: payload, retained: true})
}

// handleIngress enqueues a command published by a producer and
// acknowledges it. Rejections are acknowledged, never returned as errors,
// so the MQTT layer does not log producer mistakes as faults.
func (r *Relay) handleIngress(_ string, payload []byte) error {
	var msg IngressMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.ack(AckMessage{Status: AckError, Message: msgInvalidPayload})
		return nil
	}

	if msg.Type == nil || msg.Target == "" {
		r.ack(AckMessage{RequestID: msg.RequestID, Status: AckError, Message: msgMissingFields})
		return nil
	}

	id, err := r.queue.Enqueue(r.context(), command.Type(*msg.Type), msg.Target, msg.Params)
	switch {
	case errors.Is(err, command.ErrInvalidCommandType):
		r.ack(AckMessage{RequestID: msg.RequestID, Status: AckError, Message: msgInvalidType})
		return nil
	case errors.Is(err, command.ErrMissingField):
		r.ack(AckMessage{RequestID: msg.RequestID, Status: AckError, Message: msgMissingFields})
		return nil
	case err != nil:
		r.logger.Error("ingress enqueue failed", "request_id", msg.RequestID, "error", err)
		r.ack(AckMessage{RequestID: msg.RequestID, Status: AckError, Message: msgEnqueueFailed})
		return nil
	}

	r.logger.Debug("command enqueued via mqtt", "command_id", id, "request_id", msg.RequestID)
	r.ack(AckMessage{RequestID: msg.RequestID, Status: AckSuccess, CommandID: id})
	return nil
}

func (r *Relay) ack(msg AckMessage) {
	msg.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to encode ingress ack", "error", err)
		return
	}
	r.enqueueOutbound(outbound{topic: r.topics.IngressAck(), payload: payload})
}

func (r *Relay) context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}
