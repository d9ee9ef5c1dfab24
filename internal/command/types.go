package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of automation action a consumer performs.
type Type string

const (
	TypeClick  Type = "click"
	TypeInput  Type = "input"
	TypeScroll Type = "scroll"
	TypeWait   Type = "wait"
)

// AllTypes returns every supported command type.
func AllTypes() []Type {
	return []Type{TypeClick, TypeInput, TypeScroll, TypeWait}
}

// ParseType converts a string into a Type.
// Returns ErrInvalidCommandType for anything outside the fixed enumeration.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := validTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommandType, s)
	}
	return t, nil
}

// Pre-computed validation set for O(1) type lookups.
var validTypes map[Type]struct{}

func init() {
	validTypes = make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validTypes[t] = struct{}{}
	}
}

// Status is a command's position in the lifecycle state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllStatuses returns every lifecycle status in state machine order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
}

// IsTerminal reports whether no transition leaves this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParamError is the params key used to attach failure metadata.
const ParamError = "error"

// timeoutMessage is attached under ParamError when a processing command
// exceeds the processing timeout.
const timeoutMessage = "Processing timeout"

// Command is a single unit of automation work.
//
// ID, Type, Target and CreatedAt never change after creation. Status and
// StatusChangedAt move only through the Queue. Params is mutated only to
// attach error metadata on failure.
type Command struct {
	ID     string         `json:"id"`
	Type   Type           `json:"type"`
	Target string         `json:"target"`
	Params map[string]any `json:"params"`
	Status Status         `json:"status"`

	// Milliseconds since the Unix epoch.
	CreatedAt       int64 `json:"timestamp"`
	StatusChangedAt int64 `json:"status_changed_at"`
}

// New creates a pending command with a freshly assigned ID.
//
// IDs are UUIDv7, so they are unique for the life of the process and sort in
// creation order even under concurrent enqueues within the same millisecond.
func New(typ Type, target string, params map[string]any, now time.Time) (*Command, error) {
	if _, ok := validTypes[typ]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommandType, typ)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: target", ErrMissingField)
	}

	ts := now.UnixMilli()
	return &Command{
		ID:              newID(),
		Type:            typ,
		Target:          target,
		Params:          cloneParams(params),
		Status:          StatusPending,
		CreatedAt:       ts,
		StatusChangedAt: ts,
	}, nil
}

// UpdateStatus sets the status and refreshes StatusChangedAt.
// It never validates the transition; that is the Queue's job.
func (c *Command) UpdateStatus(status Status, now time.Time) {
	c.Status = status
	c.StatusChangedAt = now.UnixMilli()
	if c.StatusChangedAt < c.CreatedAt {
		c.StatusChangedAt = c.CreatedAt
	}
}

// StatusChangedTime returns StatusChangedAt as a time.Time.
func (c *Command) StatusChangedTime() time.Time {
	return time.UnixMilli(c.StatusChangedAt)
}

// DeepCopy creates a complete independent copy of the Command.
// Params (including nested maps and slices) are cloned so callers can never
// mutate queue state through a returned snapshot.
func (c *Command) DeepCopy() *Command {
	if c == nil {
		return nil
	}
	cpy := *c
	cpy.Params = cloneParams(c.Params)
	return &cpy
}

// Record is the transport-neutral projection of a Command.
// All seven fields are carried so external collaborators can serialise it
// without touching the entity.
type Record struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Target          string         `json:"target"`
	Params          map[string]any `json:"params"`
	Status          string         `json:"status"`
	CreatedAt       int64          `json:"timestamp"`
	StatusChangedAt int64          `json:"status_changed_at"`
}

// Record returns the lossless projection of the command.
func (c *Command) Record() Record {
	return Record{
		ID:              c.ID,
		Type:            string(c.Type),
		Target:          c.Target,
		Params:          cloneParams(c.Params),
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt,
		StatusChangedAt: c.StatusChangedAt,
	}
}

// newID returns a time-ordered UUIDv7 string.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Only fails if the system entropy source is broken.
		return uuid.NewString()
	}
	return id.String()
}

// cloneParams deep-copies a params map. A nil map becomes an empty map so
// the JSON projection is always an object.
func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneParams(val)
	case []any:
		cpy := make([]any, len(val))
		for i := range val {
			cpy[i] = cloneValue(val[i])
		}
		return cpy
	default:
		return v
	}
}
