// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// MemoryStore is a Store that keeps everything in memory.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	notices   []Notice
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]byte),
	}
}

// SaveSnapshot is part of the Store interface.
func (s *MemoryStore) SaveSnapshot(_ context.Context, handle string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[handle] = append([]byte(nil), data...)
	return nil
}

// LoadSnapshot is part of the Store interface.
func (s *MemoryStore) LoadSnapshot(_ context.Context, handle string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.snapshots[handle]
	if !ok {
		return nil, errors.NotFoundf("snapshot %q", handle)
	}
	return append([]byte(nil), data...), nil
}

// DropSnapshot is part of the Store interface.
func (s *MemoryStore) DropSnapshot(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, handle)
	return nil
}

// SaveNotice is part of the Store interface.
func (s *MemoryStore) SaveNotice(_ context.Context, notice Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(notice) >= 0 {
		return nil
	}
	s.notices = append(s.notices, notice)
	return nil
}

// Notices is part of the Store interface.
func (s *MemoryStore) Notices(_ context.Context) ([]Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notice(nil), s.notices...), nil
}

// DropNotice is part of the Store interface.
func (s *MemoryStore) DropNotice(_ context.Context, notice Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(notice); i >= 0 {
		s.notices = append(s.notices[:i], s.notices[i+1:]...)
	}
	return nil
}

// Close is part of the Store interface.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) indexOf(notice Notice) int {
	for i, n := range s.notices {
		if n.EventPath == notice.EventPath && n.ObserverPath == notice.ObserverPath {
			return i
		}
	}
	return -1
}
