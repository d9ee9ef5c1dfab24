// Package telemetry writes queue metrics to InfluxDB.
//
// A Reporter observes command lifecycle events (one command_event point per
// transition, tagged with event and type, carrying the command's age) and
// samples queue depth on a fixed interval.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/cmdbroker/internal/command"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/influxdb"
)

// DefaultInterval is the queue depth sampling interval.
const DefaultInterval = 15 * time.Second

// Writer is the subset of the InfluxDB client the reporter needs.
// *influxdb.Client satisfies it.
type Writer interface {
	WriteQueueDepth(d influxdb.QueueDepth)
	WriteCommandEvent(event, commandType string, age time.Duration, at time.Time)
	IsConnected() bool
}

// StatsSource supplies per-status queue counts.
type StatsSource interface {
	Stats(ctx context.Context) command.Stats
}

// Logger defines the logging interface used by the reporter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds reporter configuration.
type Config struct {
	Writer   Writer
	Queue    StatsSource
	Interval time.Duration
	Logger   Logger
}

// Reporter samples queue depth and records lifecycle events.
type Reporter struct {
	writer   Writer
	queue    StatsSource
	interval time.Duration
	logger   Logger

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReporter creates a reporter. Call Start to begin sampling.
func NewReporter(cfg Config) (*Reporter, error) {
	if cfg.Writer == nil {
		return nil, errors.New("telemetry: writer is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("telemetry: queue is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Reporter{
		writer:   cfg.Writer,
		queue:    cfg.Queue,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins periodic queue depth sampling.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop ends sampling and waits for the loop to exit.
// Safe to call multiple times.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// OnCommandEvent implements command.Observer.
// Writes are batched by the InfluxDB client and never block.
func (r *Reporter) OnCommandEvent(ev command.Event) {
	if !r.writer.IsConnected() {
		return
	}

	age := ev.At.Sub(time.UnixMilli(ev.Command.CreatedAt))
	if age < 0 {
		age = 0
	}
	r.writer.WriteCommandEvent(string(ev.Type), string(ev.Command.Type), age, ev.At)
}

// ReportNow writes the current queue depth immediately.
func (r *Reporter) ReportNow(ctx context.Context) {
	if !r.writer.IsConnected() {
		if r.logger != nil {
			r.logger.Debug("influxdb not connected, skipping queue depth sample")
		}
		return
	}

	st := r.queue.Stats(ctx)
	r.writer.WriteQueueDepth(influxdb.QueueDepth{
		Pending:    st.Pending,
		Processing: st.Processing,
		Completed:  st.Completed,
		Failed:     st.Failed,
	})
}

func (r *Reporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.ReportNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.ReportNow(ctx)
		}
	}
}
