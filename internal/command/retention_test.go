package command

import (
	"testing"
	"time"
)

func TestRetentionPolicy_Decide(t *testing.T) {
	p := DefaultRetentionPolicy()
	changed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status Status
		age    time.Duration
		want   Decision
	}{
		{"pending fresh", StatusPending, 0, Keep},
		{"pending ancient", StatusPending, 365 * 24 * time.Hour, Keep},
		{"completed within window", StatusCompleted, 3599 * time.Second, Keep},
		{"completed at boundary", StatusCompleted, time.Hour, Keep},
		{"completed expired", StatusCompleted, 3601 * time.Second, Evict},
		{"failed within window", StatusFailed, 23 * time.Hour, Keep},
		{"failed at boundary", StatusFailed, 24 * time.Hour, Keep},
		{"failed expired", StatusFailed, 24*time.Hour + time.Millisecond, Evict},
		{"processing within timeout", StatusProcessing, 299 * time.Second, Keep},
		{"processing at timeout", StatusProcessing, 300 * time.Second, Keep},
		{"processing stale", StatusProcessing, 301 * time.Second, Reclassify},
		{"unknown status", Status("archived"), 0, Evict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.status, changed, changed.Add(tt.age))
			if got != tt.want {
				t.Errorf("Decide(%s, age=%v) = %v, want %v", tt.status, tt.age, got, tt.want)
			}
		})
	}
}

func TestRetentionPolicy_Overrides(t *testing.T) {
	p := RetentionPolicy{
		Completed:         10 * time.Second,
		Failed:            20 * time.Second,
		ProcessingTimeout: 5 * time.Second,
	}
	changed := time.Unix(1_700_000_000, 0)

	if got := p.Decide(StatusCompleted, changed, changed.Add(11*time.Second)); got != Evict {
		t.Errorf("completed after 11s = %v, want evict", got)
	}
	if got := p.Decide(StatusFailed, changed, changed.Add(11*time.Second)); got != Keep {
		t.Errorf("failed after 11s = %v, want keep", got)
	}
	if got := p.Decide(StatusProcessing, changed, changed.Add(6*time.Second)); got != Reclassify {
		t.Errorf("processing after 6s = %v, want reclassify", got)
	}
}

func TestDecision_String(t *testing.T) {
	tests := map[Decision]string{
		Keep:         "keep",
		Evict:        "evict",
		Reclassify:   "reclassify",
		Decision(42): "unknown",
	}
	for d, want := range tests {
		if got := d.String(); got != want {
			t.Errorf("Decision(%d).String() = %q, want %q", int(d), got, want)
		}
	}
}
