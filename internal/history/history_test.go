package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID   int    `json:"id"`
	Note string `json:"note"`
}

func TestLogAppendAndEviction(t *testing.T) {
	l := NewLog[entry](3, nil, nil)

	for i := 1; i <= 5; i++ {
		l.Append(entry{ID: i})
	}

	assert.Equal(t, 3, l.Len())
	items := l.Items()
	require.Len(t, items, 3)
	assert.Equal(t, 3, items[0].ID)
	assert.Equal(t, 5, items[2].ID)

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last.ID)
}

func TestLogLastEmpty(t *testing.T) {
	l := NewLog[entry](3, nil, nil)
	_, ok := l.Last()
	assert.False(t, ok)
}

func TestLogPersistsOnAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "alerts.json")
	l := NewLog[entry](10, NewFileStorage(path), nil)
	l.Append(entry{ID: 1, Note: "first"})
	l.Append(entry{ID: 2, Note: "second"})

	reloaded := NewLog[entry](10, NewFileStorage(path), nil)
	items := reloaded.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Note)
	assert.Equal(t, "second", items[1].Note)
}

func TestLogHydrationTrimsToCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	big := NewLog[entry](10, NewFileStorage(path), nil)
	for i := 1; i <= 6; i++ {
		big.Append(entry{ID: i})
	}

	small := NewLog[entry](2, NewFileStorage(path), nil)
	items := small.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 5, items[0].ID)
	assert.Equal(t, 6, items[1].ID)
}

func TestLogCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l := NewLog[entry](5, NewFileStorage(path), nil)
	assert.Equal(t, 0, l.Len())

	// The log stays usable, and the next append replaces the corrupt file.
	l.Append(entry{ID: 9})
	reloaded := NewLog[entry](5, NewFileStorage(path), nil)
	assert.Equal(t, 1, reloaded.Len())
}

func TestFileStorageMissingFile(t *testing.T) {
	fs := NewFileStorage(filepath.Join(t.TempDir(), "absent.json"))
	var dst []entry
	require.NoError(t, fs.Load(&dst))
	assert.Empty(t, dst)
}
