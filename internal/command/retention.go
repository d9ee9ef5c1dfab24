package command

import "time"

// Default retention windows, matching the broker's historical behaviour.
const (
	DefaultCompletedRetention = time.Hour
	DefaultFailedRetention    = 24 * time.Hour
	DefaultProcessingTimeout  = 5 * time.Minute
)

// Decision is the outcome of applying the retention policy to one command.
type Decision int

const (
	// Keep leaves the command as it is.
	Keep Decision = iota
	// Evict removes the command from the queue.
	Evict
	// Reclassify moves a stale processing command to failed. The command is
	// then kept under the failed retention rule.
	Reclassify
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Evict:
		return "evict"
	case Reclassify:
		return "reclassify"
	default:
		return "unknown"
	}
}

// RetentionPolicy holds the status-specific retention windows.
//
// Pending commands have no TTL; they leave the queue only by being dequeued.
type RetentionPolicy struct {
	// Completed is how long a completed command stays visible.
	Completed time.Duration
	// Failed is how long a failed command stays visible.
	Failed time.Duration
	// ProcessingTimeout is how long a command may stay processing before
	// the sweep fails it.
	ProcessingTimeout time.Duration
}

// DefaultRetentionPolicy returns 1h completed, 24h failed, 5m processing.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Completed:         DefaultCompletedRetention,
		Failed:            DefaultFailedRetention,
		ProcessingTimeout: DefaultProcessingTimeout,
	}
}

// Decide maps (status, age) to keep, evict or reclassify.
//
// Boundaries are inclusive for keeping: a completed command whose age equals
// the Completed window exactly is still kept. Decide is pure and never
// mutates anything.
func (p RetentionPolicy) Decide(status Status, statusChangedAt, now time.Time) Decision {
	age := now.Sub(statusChangedAt)

	switch status {
	case StatusPending:
		return Keep
	case StatusCompleted:
		if age <= p.Completed {
			return Keep
		}
		return Evict
	case StatusFailed:
		if age <= p.Failed {
			return Keep
		}
		return Evict
	case StatusProcessing:
		if age > p.ProcessingTimeout {
			return Reclassify
		}
		return Keep
	default:
		return Evict
	}
}
