package naturalearth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCache_Missing(t *testing.T) {
	c := NewFileCache(t.TempDir(), time.Hour, clockwork.NewFakeClockAt(testNow))

	data, fresh, err := c.Get("absent.json")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.False(t, fresh)
}

func TestFileCache_PutGet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	clock := clockwork.NewFakeClockAt(testNow)
	c := NewFileCache(dir, time.Hour, clock)

	require.NoError(t, c.Put("places.json", []byte(`[1]`)))

	data, fresh, err := c.Get("places.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1]`), data)
	assert.True(t, fresh)

	clock.Advance(time.Hour)
	data, fresh, err = c.Get("places.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1]`), data)
	assert.False(t, fresh, "entries expire after the TTL but stay readable")
}

func TestFileCache_PutReplacesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir, time.Hour, clockwork.NewFakeClockAt(testNow))

	require.NoError(t, c.Put("places.json", []byte(`old`)))
	require.NoError(t, c.Put("places.json", []byte(`new`)))

	data, _, err := c.Get("places.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`new`), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "places.json", entries[0].Name())
}
