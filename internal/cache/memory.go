package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCache implements Backend using sync.Map
type MemoryCache struct {
	data            sync.Map
	maxSize         int
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
	storedAt  time.Time
}

func (e *memoryCacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryCache creates a new in-memory cache holding at most maxSize
// entries after each cleanup pass.
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 2 * time.Minute
	}
	mc := &MemoryCache{
		maxSize:         maxSize,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go mc.cleanupLoop()
	return mc
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok := m.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := val.(*memoryCacheEntry)
	if entry.expired(time.Now()) {
		m.data.Delete(key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	entry := &memoryCacheEntry{value: append([]byte(nil), value...), storedAt: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	m.data.Store(key, entry)
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup drops expired entries, then the oldest entries beyond maxSize.
func (m *MemoryCache) cleanup() {
	now := time.Now()
	type keyAge struct {
		key      string
		storedAt time.Time
	}
	var entries []keyAge

	m.data.Range(func(key, value interface{}) bool {
		k := key.(string)
		entry := value.(*memoryCacheEntry)
		if entry.expired(now) {
			m.data.Delete(k)
		} else {
			entries = append(entries, keyAge{k, entry.storedAt})
		}
		return true
	})

	if m.maxSize > 0 && len(entries) > m.maxSize {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].storedAt.Before(entries[j].storedAt)
		})
		for _, e := range entries[:len(entries)-m.maxSize] {
			m.data.Delete(e.key)
		}
	}
}
