package command

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "commands.json")
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	s := openTestStore(t)

	cmds, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestFileStore_SaveWritesDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Save(ctx, []PersistedCommand{
		{Type: "click", Target: "#btn", Params: map[string]any{}, Order: 1},
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var doc map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc["commands"], 1)
	assert.Equal(t, "click", doc["commands"][0]["type"])
	assert.Equal(t, "#btn", doc["commands"][0]["target"])
	assert.Equal(t, float64(1), doc["commands"][0]["order"])

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStore_SaveEmptyList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Save(ctx, nil))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"commands":[]}`, string(data))

	cmds, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestFileStore_LoadSortsByOrder(t *testing.T) {
	s := openTestStore(t)

	raw := `{"commands":[
		{"type":"wait","target":"c","params":{},"order":3},
		{"type":"click","target":"a","params":{},"order":1},
		{"type":"input","target":"b","params":{"text":"hi"},"order":2}
	]}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0600))

	cmds, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, "a", cmds[0].Target)
	assert.Equal(t, "b", cmds[1].Target)
	assert.Equal(t, "c", cmds[2].Target)
	assert.Equal(t, "hi", cmds[1].Params["text"])
}

func TestFileStore_LoadCorruptFile(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0600))

	_, err := s.Load(context.Background())
	assert.Error(t, err)
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Save(ctx, []PersistedCommand{{Type: "click", Target: "#x", Order: i}}))
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"commands.json", "commands.json.lock"}, names)
}

func TestFileStore_ExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.json")

	first, err := OpenFileStore(path)
	require.NoError(t, err)

	_, err = OpenFileStore(path)
	assert.ErrorIs(t, err, ErrStoreLocked)

	require.NoError(t, first.Close())

	second, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestFileStore_EmptyPath(t *testing.T) {
	_, err := OpenFileStore("")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestMemoryStore_CopiesOnSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	in := []PersistedCommand{{Type: "input", Target: "#a", Params: map[string]any{"text": "x"}, Order: 1}}
	require.NoError(t, m.Save(ctx, in))
	in[0].Params["text"] = "changed"

	out, err := m.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0].Params["text"])
	assert.Equal(t, 1, m.Saves())
}
