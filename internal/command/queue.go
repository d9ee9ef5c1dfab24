package command

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Queue.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds per-status command counts.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// SweepResult reports what a retention sweep changed.
type SweepResult struct {
	TimedOut int `json:"timed_out"`
	Evicted  int `json:"evicted"`
}

// Changed reports whether the sweep touched any command.
func (r SweepResult) Changed() bool {
	return r.TimedOut > 0 || r.Evicted > 0
}

// Option configures a Queue.
type Option func(*Queue)

// WithRetention overrides the default retention windows.
func WithRetention(p RetentionPolicy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithClock injects the time source. Tests use it to move time forward
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.observers = append(q.observers, o)
		}
	}
}

// Queue is the broker's ordered command collection.
//
// Commands are kept in insertion order (which equals creation order) with an
// ID index beside the slice, so the next-pending scan and ID lookups never
// expose internal pointers to callers. Every public method takes the single
// mutex for its whole duration, including the retention sweep and the
// persistence write.
//
// Thread Safety: All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	commands []*Command
	index    map[string]*Command

	store  Store
	policy RetentionPolicy
	now    func() time.Time
	logger Logger

	observers []Observer
	obsMu     sync.RWMutex

	// started is set by the first Restore or persisted mutation.
	started bool
}

// NewQueue creates an empty queue backed by store.
// A nil store keeps state in memory only.
func NewQueue(store Store, opts ...Option) *Queue {
	if store == nil {
		store = NewMemoryStore()
	}
	q := &Queue{
		index:  make(map[string]*Command),
		store:  store,
		policy: DefaultRetentionPolicy(),
		now:    time.Now,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddObserver registers an observer for lifecycle events.
func (q *Queue) AddObserver(o Observer) {
	if o == nil {
		return
	}
	q.obsMu.Lock()
	q.observers = append(q.observers, o)
	q.obsMu.Unlock()
}

// Policy returns the retention policy in use.
func (q *Queue) Policy() RetentionPolicy {
	return q.policy
}

// Restore loads persisted pending commands and appends them in their saved
// order. Each gets a new ID and creation timestamp; original identity does not
// survive a restart. Load failures and invalid entries are logged and
// skipped. Returns the number of commands restored.
//
// Restore must run once, before the queue is used: it returns
// ErrQueueStarted after a previous Restore or after any change has been
// persisted, since that write has already replaced the saved list.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return 0, ErrQueueStarted
	}
	q.started = true

	persisted, err := q.store.Load(ctx)
	if err != nil {
		q.logger.Warn("failed to load persisted commands", "error", err)
		return 0, nil
	}

	now := q.now()
	restored := 0
	for _, p := range persisted {
		typ, err := ParseType(p.Type)
		if err != nil {
			q.logger.Warn("skipping persisted command", "order", p.Order, "error", err)
			continue
		}
		cmd, err := New(typ, p.Target, p.Params, now)
		if err != nil {
			q.logger.Warn("skipping persisted command", "order", p.Order, "error", err)
			continue
		}
		q.appendLocked(cmd)
		restored++
	}

	q.logger.Info("restored pending commands", "count", restored)
	return restored, nil
}

// Enqueue validates and appends a new pending command, then persists the
// pending subset. Returns the new command's ID.
//
// Errors: ErrInvalidCommandType, ErrMissingField. A rejected enqueue never
// changes the queue.
func (q *Queue) Enqueue(ctx context.Context, typ Type, target string, params map[string]any) (string, error) {
	q.mu.Lock()
	now := q.now()
	events := q.sweepLocked(now)

	// Created under the lock so insertion order always equals creation order.
	cmd, err := New(typ, target, params, now)
	if err != nil {
		if len(events) > 0 {
			q.persistLocked(ctx)
		}
		q.mu.Unlock()
		q.notify(events)
		return "", err
	}

	q.appendLocked(cmd)
	events = append(events, newEvent(EventEnqueued, cmd, now))
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.logger.Debug("command enqueued", "command_id", cmd.ID, "type", cmd.Type, "target", cmd.Target)
	q.notify(events)
	return cmd.ID, nil
}

// DequeueNext moves the oldest pending command to processing and returns a
// copy of it. The boolean is false when nothing is pending; that is an
// expected result, not an error. DequeueNext never blocks.
func (q *Queue) DequeueNext(ctx context.Context) (*Command, bool) {
	q.mu.Lock()
	now := q.now()
	events := q.sweepLocked(now)

	var picked *Command
	for _, c := range q.commands {
		if c.Status == StatusPending {
			picked = c
			break
		}
	}

	if picked == nil {
		if len(events) > 0 {
			q.persistLocked(ctx)
		}
		q.mu.Unlock()
		q.notify(events)
		return nil, false
	}

	picked.UpdateStatus(StatusProcessing, now)
	events = append(events, newEvent(EventDispatched, picked, now))
	// The dispatched command is no longer part of the durable pending set.
	q.persistLocked(ctx)
	out := picked.DeepCopy()
	q.mu.Unlock()

	q.logger.Debug("command dispatched", "command_id", out.ID)
	q.notify(events)
	return out, true
}

// Complete records the outcome of a processing command: completed when
// success is true, failed otherwise.
//
// Errors: ErrCommandNotFound for an unknown ID, ErrInvalidTransition when the
// command is not processing. Terminal commands are never overwritten.
func (q *Queue) Complete(ctx context.Context, id string, success bool) (*Command, error) {
	return q.CompleteWithReason(ctx, id, success, "")
}

// CompleteWithReason is Complete with an optional failure reason. When the
// outcome is a failure and reason is non-empty it is attached to the
// command's params under "error".
func (q *Queue) CompleteWithReason(ctx context.Context, id string, success bool, reason string) (*Command, error) {
	q.mu.Lock()
	now := q.now()
	events := q.sweepLocked(now)

	cmd, ok := q.index[id]
	if !ok || cmd.Status != StatusProcessing {
		if len(events) > 0 {
			q.persistLocked(ctx)
		}
		q.mu.Unlock()
		q.notify(events)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
		}
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, cmd.Status)
	}

	eventType := EventCompleted
	if success {
		cmd.UpdateStatus(StatusCompleted, now)
	} else {
		cmd.UpdateStatus(StatusFailed, now)
		if reason != "" {
			cmd.Params[ParamError] = reason
		}
		eventType = EventFailed
	}
	events = append(events, newEvent(eventType, cmd, now))
	q.persistLocked(ctx)
	out := cmd.DeepCopy()
	q.mu.Unlock()

	q.logger.Debug("command finished", "command_id", id, "status", out.Status)
	q.notify(events)
	return out, nil
}

// Get returns a copy of a single command.
func (q *Queue) Get(ctx context.Context, id string) (*Command, error) {
	q.mu.Lock()
	events := q.sweepLocked(q.now())
	if len(events) > 0 {
		q.persistLocked(ctx)
	}

	cmd, ok := q.index[id]
	var out *Command
	if ok {
		out = cmd.DeepCopy()
	}
	q.mu.Unlock()

	q.notify(events)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	return out, nil
}

// ListAll returns a point-in-time copy of every surviving command in
// insertion order.
func (q *Queue) ListAll(ctx context.Context) []Command {
	q.mu.Lock()
	events := q.sweepLocked(q.now())
	if len(events) > 0 {
		q.persistLocked(ctx)
	}

	out := make([]Command, 0, len(q.commands))
	for _, c := range q.commands {
		out = append(out, *c.DeepCopy())
	}
	q.mu.Unlock()

	q.notify(events)
	return out
}

// Stats returns per-status counts after a sweep.
func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.Lock()
	events := q.sweepLocked(q.now())
	if len(events) > 0 {
		q.persistLocked(ctx)
	}

	var st Stats
	for _, c := range q.commands {
		st.Total++
		switch c.Status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
	}
	q.mu.Unlock()

	q.notify(events)
	return st
}

// Sweep runs the retention policy on its own. Public operations sweep
// implicitly; this exists for the background sweeper.
func (q *Queue) Sweep(ctx context.Context) SweepResult {
	q.mu.Lock()
	events := q.sweepLocked(q.now())
	if len(events) > 0 {
		q.persistLocked(ctx)
	}
	q.mu.Unlock()

	var res SweepResult
	for _, ev := range events {
		switch ev.Type {
		case EventTimedOut:
			res.TimedOut++
		case EventEvicted:
			res.Evicted++
		}
	}
	if res.Changed() {
		q.logger.Info("retention sweep", "timed_out", res.TimedOut, "evicted", res.Evicted)
	}

	q.notify(events)
	return res
}

// Len returns the number of commands currently held, without sweeping.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// appendLocked adds cmd at the end of the ordered collection.
// Caller must hold q.mu.
func (q *Queue) appendLocked(cmd *Command) {
	q.commands = append(q.commands, cmd)
	q.index[cmd.ID] = cmd
}

// sweepLocked applies the retention policy to every command, failing stale
// processing commands and dropping expired terminal ones. Insertion order of
// the survivors is preserved. Caller must hold q.mu.
func (q *Queue) sweepLocked(now time.Time) []Event {
	var events []Event

	kept := q.commands[:0]
	for _, c := range q.commands {
		switch q.policy.Decide(c.Status, c.StatusChangedTime(), now) {
		case Reclassify:
			c.UpdateStatus(StatusFailed, now)
			c.Params[ParamError] = timeoutMessage
			events = append(events, newEvent(EventTimedOut, c, now))
			kept = append(kept, c)
			q.logger.Warn("command processing timeout", "command_id", c.ID)
		case Evict:
			delete(q.index, c.ID)
			events = append(events, newEvent(EventEvicted, c, now))
		default:
			kept = append(kept, c)
		}
	}

	// Drop references held by the tail so evicted commands can be collected.
	for i := len(kept); i < len(q.commands); i++ {
		q.commands[i] = nil
	}
	q.commands = kept

	return events
}

// persistLocked writes the pending subset, in order, to the store.
// Failures are logged and absorbed: in-memory state stays authoritative.
// Caller must hold q.mu.
func (q *Queue) persistLocked(ctx context.Context) {
	q.started = true
	pending := make([]PersistedCommand, 0, len(q.commands))
	for _, c := range q.commands {
		if c.Status != StatusPending {
			continue
		}
		pending = append(pending, PersistedCommand{
			Type:   string(c.Type),
			Target: c.Target,
			Params: cloneParams(c.Params),
			Order:  len(pending) + 1,
		})
	}

	if err := q.store.Save(ctx, pending); err != nil {
		q.logger.Warn("failed to persist pending commands", "error", err, "pending", len(pending))
	}
}

// notify delivers events to every observer. A panicking observer is logged
// and does not stop delivery to the others.
func (q *Queue) notify(events []Event) {
	if len(events) == 0 {
		return
	}

	q.obsMu.RLock()
	observers := make([]Observer, len(q.observers))
	copy(observers, q.observers)
	q.obsMu.RUnlock()

	for _, ev := range events {
		for _, o := range observers {
			q.deliver(o, ev)
		}
	}
}

func (q *Queue) deliver(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("command observer panic recovered",
				"event", ev.Type,
				"command_id", ev.Command.ID,
				"panic", r,
			)
		}
	}()
	o.OnCommandEvent(ev)
}
