package colors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steppingClock() func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func TestOwnerKeepsColor(t *testing.T) {
	c, err := NewColorCache(t.TempDir())
	require.NoError(t, err)

	first := c.ColorID("alice")
	assert.Equal(t, first, c.ColorID("alice"))
	assert.NotEqual(t, first, c.ColorID("bob"))
	assert.Equal(t, Unassigned, c.ColorID(""))
}

func TestLeastRecentlyUsedOwnerIsEvicted(t *testing.T) {
	c, err := NewColorCache(t.TempDir())
	require.NoError(t, err)
	c.now = steppingClock()

	seen := map[string]bool{}
	for i := 0; i < 9; i++ {
		id := c.ColorID(fmt.Sprintf("owner-%d", i))
		assert.NotEqual(t, Unassigned, id)
		assert.NotEqual(t, Delayed, id)
		assert.False(t, seen[id], "color %s handed out twice", id)
		seen[id] = true
	}

	// touch owner-0 so owner-1 becomes the oldest
	zero := c.ColorID("owner-0")
	one := c.Owners["owner-1"].ColorID

	assert.Equal(t, one, c.ColorID("newcomer"))
	assert.NotContains(t, c.Owners, "owner-1")
	assert.Equal(t, zero, c.ColorID("owner-0"))
}

func TestCachePersists(t *testing.T) {
	dir := t.TempDir()
	c, err := NewColorCache(dir)
	require.NoError(t, err)
	id := c.ColorID("alice")
	require.NoError(t, c.Save())

	reopened, err := NewColorCache(dir)
	require.NoError(t, err)
	assert.Equal(t, id, reopened.ColorID("alice"))
}
