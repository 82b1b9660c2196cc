// Package colors hands out Google Calendar color ids per task owner so that
// every owner's mirrored tasks share one color. Only eleven colors exist, so
// the least recently used owner gives its color up when they run out.
package colors

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	cacheFile = "owner_colors.json"

	// Unassigned is used for tasks without an owner.
	Unassigned = "8"
	// Delayed overrides the owner color of escalated tasks.
	Delayed = "11"

	paletteSize = 10
)

type OwnerState struct {
	ColorID      string    `json:"color_id"`
	LastModified time.Time `json:"last_modified"`
}

type ColorCache struct {
	Path   string
	Owners map[string]*OwnerState `json:"owners"`

	mu    sync.Mutex
	dirty bool
	now   func() time.Time
}

// NewColorCache opens the cache stored in dir.
func NewColorCache(dir string) (*ColorCache, error) {
	cache := &ColorCache{
		Path:   filepath.Join(dir, cacheFile),
		Owners: make(map[string]*OwnerState),
		now:    time.Now,
	}

	if _, err := os.Stat(cache.Path); err == nil {
		if err := cache.Load(); err != nil {
			return nil, err
		}
	}
	return cache, nil
}

func (c *ColorCache) Load() error {
	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	return json.NewDecoder(f).Decode(&c.Owners)
}

func (c *ColorCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.Create(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(c.Owners); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// ColorID returns the color of owner, assigning one on first use.
func (c *ColorCache) ColorID(owner string) string {
	if owner == "" {
		return Unassigned
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.Owners[owner]; ok {
		state.LastModified = c.now()
		c.dirty = true
		return state.ColorID
	}
	return c.assign(owner)
}

func (c *ColorCache) assign(owner string) string {
	used := make(map[string]bool)
	for _, s := range c.Owners {
		used[s.ColorID] = true
	}

	// palette is 1..10; 11 is kept for delayed tasks
	for i := 1; i <= paletteSize; i++ {
		id := strconv.Itoa(i)
		if id == Unassigned || used[id] {
			continue
		}
		c.Owners[owner] = &OwnerState{ColorID: id, LastModified: c.now()}
		c.dirty = true
		return id
	}

	var oldest string
	var oldestTime time.Time
	for o, s := range c.Owners {
		if oldest == "" || s.LastModified.Before(oldestTime) {
			oldest, oldestTime = o, s.LastModified
		}
	}
	recycled := c.Owners[oldest].ColorID
	delete(c.Owners, oldest)

	c.Owners[owner] = &OwnerState{ColorID: recycled, LastModified: c.now()}
	c.dirty = true
	return recycled
}
