package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrClosed   = errors.New("task store closed")
)

type entry struct {
	mu   sync.Mutex
	task model.Task
}

// Store is the board's local task cache. Each task has its own lock so that
// the deadline monitor and user moves on the same task are serialized while
// different tasks proceed independently.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
	dirty   bool
}

func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Put inserts or replaces a task.
func (s *Store) Put(task model.Task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.dirty = true
	e, ok := s.entries[task.ID]
	if !ok {
		s.entries[task.ID] = &entry{task: task.Clone()}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// task locks are always taken without holding s.mu
	e.mu.Lock()
	e.task = task.Clone()
	e.mu.Unlock()
	return nil
}

// Replace swaps the whole content of the store for tasks.
func (s *Store) Replace(tasks []model.Task) error {
	fresh := make(map[string]*entry, len(tasks))
	for _, t := range tasks {
		fresh[t.ID] = &entry{task: t.Clone()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries = fresh
	s.dirty = true
	return nil
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (model.Task, error) {
	e, err := s.lookup(id)
	if err != nil {
		return model.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// Update runs fn with exclusive access to the task and stores the result when
// fn returns nil. fn must not block on I/O.
func (s *Store) Update(id string, fn func(t *model.Task) error) (model.Task, error) {
	e, err := s.lookup(id)
	if err != nil {
		return model.Task{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// the store may have been closed while waiting for the task lock
	if s.Closed() {
		return model.Task{}, ErrClosed
	}

	work := e.task.Clone()
	if err := fn(&work); err != nil {
		return e.task.Clone(), err
	}
	e.task = work

	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()

	return work.Clone(), nil
}

// Remove drops a task from the store.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; exists {
		delete(s.entries, id)
		s.dirty = true
	}
}

// IDs returns the ids of tasks in any of the given statuses, or of every task
// when no status is given.
func (s *Store) IDs(statuses ...model.Status) []string {
	var ids []string
	for _, t := range s.List() {
		if len(statuses) == 0 || hasStatus(statuses, t.Status) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// List returns copies of every task ordered by creation time.
func (s *Store) List() []model.Task {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	tasks := make([]model.Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		tasks = append(tasks, e.task.Clone())
		e.mu.Unlock()
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

// Len returns the number of tasks held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close disposes the store. Later writes fail with ErrClosed so results that
// arrive after the board is torn down are dropped.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

type snapshot struct {
	Tasks []model.Task `json:"tasks"`
}

// Load reads a snapshot written by Save and replaces the store content.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode task snapshot: %w", err)
	}
	if err := s.Replace(snap.Tasks); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Save writes the store to path when it changed since the last Load or Save.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	if !s.dirty {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	snap := snapshot{Tasks: s.List()}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func hasStatus(statuses []model.Status, st model.Status) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}
