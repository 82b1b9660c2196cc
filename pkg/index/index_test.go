package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIndexPersists(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewEventIndex(dir)
	require.NoError(t, err)
	assert.Empty(t, idx.Get("T-1"))

	idx.Set("T-1", "evt-1")
	idx.Set("T-2", "evt-2")
	idx.Remove("T-2")
	require.NoError(t, idx.Save())

	reopened, err := NewEventIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", reopened.Get("T-1"))
	assert.Empty(t, reopened.Get("T-2"))
}

func TestSaveSkipsCleanIndex(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewEventIndex(dir)
	require.NoError(t, err)

	require.NoError(t, idx.Save())
	_, err = os.Stat(filepath.Join(dir, fileName))
	assert.True(t, os.IsNotExist(err), "nothing written for an unchanged index")

	idx.Set("T-1", "evt-1")
	idx.Set("T-1", "evt-1")
	require.NoError(t, idx.Save())
	_, err = os.Stat(filepath.Join(dir, fileName))
	assert.NoError(t, err)
}

func TestCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("{not json"), 0600))

	_, err := NewEventIndex(dir)
	assert.Error(t, err)
}
