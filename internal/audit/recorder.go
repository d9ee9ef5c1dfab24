package audit

import (
	"context"
	"sync/atomic"

	"github.com/nerrad567/cmdbroker/internal/command"
)

// DefaultBufferSize is the buffer size for the async history channel.
// Entries beyond this are dropped to avoid back-pressure on the queue.
const DefaultBufferSize = 256

// Logger defines the logging interface used by the Recorder.
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

// Recorder is a command.Observer that writes lifecycle events to a
// Repository on a single background goroutine.
//
// OnCommandEvent never blocks: if the buffer is full the entry is dropped
// and a warning is logged.
type Recorder struct {
	repo    Repository
	logger  Logger
	ch      chan *Entry
	dropped atomic.Uint64
}

// NewRecorder creates a Recorder. A size <= 0 uses DefaultBufferSize.
func NewRecorder(repo Repository, logger Logger, size int) *Recorder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:   repo,
		logger: logger,
		ch:     make(chan *Entry, size),
	}
}

// OnCommandEvent implements command.Observer.
func (r *Recorder) OnCommandEvent(ev command.Event) {
	entry := EntryFromEvent(ev)
	select {
	case r.ch <- &entry:
	default:
		r.dropped.Add(1)
		r.logger.Warn("history channel full, dropping entry",
			"command_id", entry.CommandID,
			"event", entry.Event,
		)
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run writes entries serially until ctx is cancelled, then drains what is
// left in the buffer before returning.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case entry := <-r.ch:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.ch:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *Entry) {
	// The server context may already be cancelled during the final drain.
	if err := r.repo.Create(context.Background(), entry); err != nil {
		r.logger.Error("history write failed",
			"command_id", entry.CommandID,
			"event", entry.Event,
			"error", err,
		)
	}
}
