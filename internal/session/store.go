// Package session maps external task ids to provider conversation threads.
// Entries are ephemeral: created on first reply, dropped on approval, and
// not persisted across restarts — a reappearing task transparently gets a
// fresh thread.
package session

import "sync"

// Store maps a task id to its conversation thread handle.
type Store struct {
	mu      sync.RWMutex
	threads map[int64]string
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{threads: make(map[int64]string)}
}

// Thread returns the thread bound to a task, if any.
func (s *Store) Thread(taskID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[taskID]
	return thread, ok
}

// Bind associates a task with a thread.
func (s *Store) Bind(taskID int64, threadID string) {
	s.mu.Lock()
	s.threads[taskID] = threadID
	s.mu.Unlock()
}

// Drop removes the task's session, if present.
func (s *Store) Drop(taskID int64) {
	s.mu.Lock()
	delete(s.threads, taskID)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
