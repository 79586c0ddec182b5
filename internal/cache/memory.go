package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and as a reference
// implementation of the pair semantics.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (ms *MemoryStore) Get(ctx context.Context, url, deviceType string) (*Entry, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	digest := Key(url, deviceType)
	entry, ok := ms.entries[digest]
	if !ok {
		return nil, ErrMiss
	}
	if entry.Metadata.Expired(ms.now()) {
		delete(ms.entries, digest)
		return nil, ErrMiss
	}
	return entry, nil
}

func (ms *MemoryStore) Set(ctx context.Context, url, deviceType string, html []byte, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.entries[Key(url, deviceType)] = &Entry{
		HTML: html,
		Metadata: Metadata{
			ExpiresAt:  ms.now().Add(ttl).UnixMilli(),
			URL:        url,
			DeviceType: deviceType,
		},
	}
	return nil
}

func (ms *MemoryStore) Invalidate(ctx context.Context, url, deviceType string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	targets := DeviceTypes
	if deviceType != "" {
		targets = []string{deviceType}
	}

	removed := 0
	for _, deviceType := range targets {
		digest := Key(url, deviceType)
		if _, ok := ms.entries[digest]; ok {
			delete(ms.entries, digest)
			removed++
		}
	}
	return removed, nil
}

func (ms *MemoryStore) Clear(ctx context.Context) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	removed := len(ms.entries)
	ms.entries = make(map[string]*Entry)
	return removed, nil
}

func (ms *MemoryStore) Cleanup(ctx context.Context) (CleanupResult, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var result CleanupResult
	now := ms.now()
	for digest, entry := range ms.entries {
		result.Scanned++
		if entry.Metadata.Expired(now) {
			delete(ms.entries, digest)
			result.Removed++
		}
	}
	return result, nil
}

// Len reports how many live entries the store holds.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.entries)
}
