package storage

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"instarelay/internal/model"
)

// WatermarkStore is the in-memory watermark document with explicit flush.
type WatermarkStore struct {
	backend WatermarkBackend

	mu    sync.RWMutex
	data  map[model.AccountKey]model.Watermark
	dirty bool

	flushMu sync.Mutex
}

// OpenWatermarks loads the whole watermark document from backend.
func OpenWatermarks(ctx context.Context, backend WatermarkBackend) (*WatermarkStore, error) {
	data, err := backend.LoadWatermarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watermarks: %w", err)
	}
	if data == nil {
		data = make(map[model.AccountKey]model.Watermark)
	}
	return &WatermarkStore{backend: backend, data: data}, nil
}

// Get returns the watermark for key. The zero Watermark with ok=false means
// the account was never synchronized.
func (s *WatermarkStore) Get(key model.AccountKey) (model.Watermark, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.data[key]
	return copyWatermark(wm), ok
}

// Put records wm for key. Timestamps never move backwards: an older value
// than the stored one is ignored field by field.
func (s *WatermarkStore) Put(key model.AccountKey, wm model.Watermark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data[key]
	next := model.Watermark{
		LastPostAt:  newest(cur.LastPostAt, wm.LastPostAt),
		LastStoryAt: newest(cur.LastStoryAt, wm.LastStoryAt),
	}
	if _, ok := s.data[key]; ok && sameTime(cur.LastPostAt, next.LastPostAt) && sameTime(cur.LastStoryAt, next.LastStoryAt) {
		return
	}
	s.data[key] = next
	s.dirty = true
}

// Delete drops the watermark of key, used when an account is unwatched.
func (s *WatermarkStore) Delete(key model.AccountKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return
	}
	delete(s.data, key)
	s.dirty = true
}

// Snapshot returns a copy of the whole document.
func (s *WatermarkStore) Snapshot() map[model.AccountKey]model.Watermark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.AccountKey]model.Watermark, len(s.data))
	for k, v := range s.data {
		out[k] = copyWatermark(v)
	}
	return out
}

// FlushAll writes the full document to the backend if anything changed.
func (s *WatermarkStore) FlushAll(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snap := maps.Clone(s.data)
	s.dirty = false
	s.mu.Unlock()

	if err := s.backend.SaveWatermarks(ctx, snap); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("save watermarks: %w", err)
	}
	return nil
}

func newest(a, b *time.Time) *time.Time {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		t := *b
		return &t
	case b == nil || !b.After(*a):
		t := *a
		return &t
	default:
		t := *b
		return &t
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func copyWatermark(wm model.Watermark) model.Watermark {
	return model.Watermark{
		LastPostAt:  newest(wm.LastPostAt, nil),
		LastStoryAt: newest(wm.LastStoryAt, nil),
	}
}
