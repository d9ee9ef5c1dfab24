package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/cmdbroker/internal/command"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/influxdb"
)

type eventPoint struct {
	event       string
	commandType string
	age         time.Duration
	at          time.Time
}

type fakeWriter struct {
	mu        sync.Mutex
	connected bool
	depths    []influxdb.QueueDepth
	events    []eventPoint
}

func (w *fakeWriter) WriteQueueDepth(d influxdb.QueueDepth) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.depths = append(w.depths, d)
}

func (w *fakeWriter) WriteCommandEvent(event, commandType string, age time.Duration, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, eventPoint{event, commandType, age, at})
}

func (w *fakeWriter) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *fakeWriter) depthCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.depths)
}

func TestNewReporter_Validation(t *testing.T) {
	q := command.NewQueue(command.NewMemoryStore())

	_, err := NewReporter(Config{Queue: q})
	assert.Error(t, err)

	_, err = NewReporter(Config{Writer: &fakeWriter{}})
	assert.Error(t, err)

	r, err := NewReporter(Config{Writer: &fakeWriter{}, Queue: q})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, r.interval)
}

func TestReporter_RecordsLifecycleWithAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	w := &fakeWriter{connected: true}
	q := command.NewQueue(command.NewMemoryStore(), command.WithClock(clock))
	r, err := NewReporter(Config{Writer: w, Queue: q})
	require.NoError(t, err)
	q.AddObserver(r)

	ctx := context.Background()
	id, err := q.Enqueue(ctx, command.TypeScroll, "window", nil)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, ok := q.DequeueNext(ctx)
	require.True(t, ok)

	now = now.Add(3 * time.Second)
	_, err = q.Complete(ctx, id, true)
	require.NoError(t, err)

	require.Len(t, w.events, 3)
	assert.Equal(t, eventPoint{"enqueued", "scroll", 0, now.Add(-5 * time.Second)}, w.events[0])
	assert.Equal(t, "dispatched", w.events[1].event)
	assert.Equal(t, 2*time.Second, w.events[1].age)
	assert.Equal(t, "completed", w.events[2].event)
	assert.Equal(t, 5*time.Second, w.events[2].age)
	assert.Equal(t, now, w.events[2].at)
}

func TestReporter_SkipsWhenDisconnected(t *testing.T) {
	w := &fakeWriter{}
	q := command.NewQueue(command.NewMemoryStore())
	r, err := NewReporter(Config{Writer: w, Queue: q})
	require.NoError(t, err)
	q.AddObserver(r)

	_, err = q.Enqueue(context.Background(), command.TypeClick, "#a", nil)
	require.NoError(t, err)
	r.ReportNow(context.Background())

	assert.Empty(t, w.events)
	assert.Empty(t, w.depths)
}

func TestReporter_ReportNow(t *testing.T) {
	w := &fakeWriter{connected: true}
	q := command.NewQueue(command.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, command.TypeWait, "body", nil)
		require.NoError(t, err)
	}
	c, ok := q.DequeueNext(ctx)
	require.True(t, ok)
	_, err := q.Complete(ctx, c.ID, false)
	require.NoError(t, err)
	_, ok = q.DequeueNext(ctx)
	require.True(t, ok)

	r, err := NewReporter(Config{Writer: w, Queue: q})
	require.NoError(t, err)
	r.ReportNow(ctx)

	require.Len(t, w.depths, 1)
	assert.Equal(t, influxdb.QueueDepth{Pending: 1, Processing: 1, Failed: 1}, w.depths[0])
}

func TestReporter_StartStop(t *testing.T) {
	w := &fakeWriter{connected: true}
	q := command.NewQueue(command.NewMemoryStore())
	r, err := NewReporter(Config{Writer: w, Queue: q, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	r.Start(context.Background())
	require.Eventually(t, func() bool { return w.depthCount() >= 2 }, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	assert.NotPanics(t, r.Stop)

	settled := w.depthCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, w.depthCount(), "no samples after Stop")
}

func TestReporter_StopsOnContextCancel(t *testing.T) {
	w := &fakeWriter{connected: true}
	q := command.NewQueue(command.NewMemoryStore())
	r, err := NewReporter(Config{Writer: w, Queue: q, Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("report loop did not exit on cancel")
	}
}
