package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, typ := range AllTypes() {
		got, err := ParseType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	_, err := ParseType("teleport")
	assert.ErrorIs(t, err, ErrInvalidCommandType)

	_, err = ParseType("CLICK")
	assert.ErrorIs(t, err, ErrInvalidCommandType, "types are case sensitive")
}

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cmd, err := New(TypeInput, "#email", map[string]any{"text": "a@b.c"}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, cmd.ID)
	assert.Equal(t, TypeInput, cmd.Type)
	assert.Equal(t, "#email", cmd.Target)
	assert.Equal(t, StatusPending, cmd.Status)
	assert.Equal(t, now.UnixMilli(), cmd.CreatedAt)
	assert.Equal(t, cmd.CreatedAt, cmd.StatusChangedAt)
	assert.Equal(t, "a@b.c", cmd.Params["text"])
}

func TestNew_Validation(t *testing.T) {
	now := time.Now()

	_, err := New("teleport", "#btn", nil, now)
	assert.ErrorIs(t, err, ErrInvalidCommandType)

	_, err = New(TypeClick, "", nil, now)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestNew_NilParamsBecomeEmptyMap(t *testing.T) {
	cmd, err := New(TypeWait, "body", nil, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, cmd.Params)
	assert.Empty(t, cmd.Params)
}

func TestNew_CopiesCallerParams(t *testing.T) {
	params := map[string]any{"delta": 100.0}
	cmd, err := New(TypeScroll, "#list", params, time.Now())
	require.NoError(t, err)

	params["delta"] = -1.0
	assert.Equal(t, 100.0, cmd.Params["delta"])
}

func TestNew_IDsAscendInCreationOrder(t *testing.T) {
	now := time.Now()
	prev := ""
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		cmd, err := New(TypeClick, "#btn", nil, now)
		require.NoError(t, err)
		_, dup := seen[cmd.ID]
		require.False(t, dup, "duplicate id %s", cmd.ID)
		seen[cmd.ID] = struct{}{}
		require.Greater(t, cmd.ID, prev)
		prev = cmd.ID
	}
}

func TestUpdateStatus(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cmd, err := New(TypeClick, "#btn", nil, created)
	require.NoError(t, err)

	later := created.Add(2 * time.Second)
	cmd.UpdateStatus(StatusProcessing, later)
	assert.Equal(t, StatusProcessing, cmd.Status)
	assert.Equal(t, later.UnixMilli(), cmd.StatusChangedAt)

	// A clock that steps backwards never breaks status_changed_at >= created_at.
	cmd.UpdateStatus(StatusCompleted, created.Add(-time.Minute))
	assert.Equal(t, cmd.CreatedAt, cmd.StatusChangedAt)
}

func TestDeepCopy_Isolated(t *testing.T) {
	cmd, err := New(TypeInput, "#q", map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{"a", "b"},
	}, time.Now())
	require.NoError(t, err)

	cpy := cmd.DeepCopy()
	cpy.Params["nested"].(map[string]any)["k"] = "changed"
	cpy.Params["list"].([]any)[0] = "z"
	cpy.Status = StatusFailed

	assert.Equal(t, "v", cmd.Params["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", cmd.Params["list"].([]any)[0])
	assert.Equal(t, StatusPending, cmd.Status)

	var nilCmd *Command
	assert.Nil(t, nilCmd.DeepCopy())
}

func TestRecord(t *testing.T) {
	cmd, err := New(TypeScroll, "#feed", map[string]any{"y": 400.0}, time.Now())
	require.NoError(t, err)

	rec := cmd.Record()
	assert.Equal(t, cmd.ID, rec.ID)
	assert.Equal(t, "scroll", rec.Type)
	assert.Equal(t, "#feed", rec.Target)
	assert.Equal(t, map[string]any{"y": 400.0}, rec.Params)
	assert.Equal(t, "pending", rec.Status)
	assert.Equal(t, cmd.CreatedAt, rec.CreatedAt)
	assert.Equal(t, cmd.StatusChangedAt, rec.StatusChangedAt)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}
