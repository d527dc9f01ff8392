package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryStoreShardCount = 32

type memoryStoreEntry struct {
	value     string
	counter   int64
	expiresAt time.Time
}

type memoryStoreShard struct {
	sync.Mutex
	entries map[string]*memoryStoreEntry
}

// MemoryKeyedStore is a sharded in-process KeyedStore.  Keys are spread over
// a fixed set of shards so that hot keys do not serialize unrelated lookups.
type MemoryKeyedStore struct {
	shards [memoryStoreShardCount]*memoryStoreShard
	now    func() time.Time
}

func NewMemoryKeyedStore() *MemoryKeyedStore {
	store := &MemoryKeyedStore{
		now: time.Now,
	}

	for i := range store.shards {
		store.shards[i] = &memoryStoreShard{
			entries: make(map[string]*memoryStoreEntry),
		}
	}

	return store
}

func (ms *MemoryKeyedStore) shard(key string) *memoryStoreShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return ms.shards[h.Sum32()%memoryStoreShardCount]
}

func (ms *MemoryKeyedStore) getEntry(shard *memoryStoreShard, key string) *memoryStoreEntry {
	entry, exists := shard.entries[key]
	if !exists {
		return nil
	}

	if ms.now().After(entry.expiresAt) {
		delete(shard.entries, key)
		return nil
	}

	return entry
}

func (ms *MemoryKeyedStore) Get(ctx context.Context, key string) (string, error) {
	shard := ms.shard(key)
	shard.Lock()
	defer shard.Unlock()

	entry := ms.getEntry(shard, key)
	if entry == nil {
		return "", ErrKeyNotFound
	}

	return entry.value, nil
}

func (ms *MemoryKeyedStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	shard := ms.shard(key)
	shard.Lock()
	defer shard.Unlock()

	shard.entries[key] = &memoryStoreEntry{
		value:     value,
		expiresAt: ms.now().Add(ttl),
	}

	return nil
}

func (ms *MemoryKeyedStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	shard := ms.shard(key)
	shard.Lock()
	defer shard.Unlock()

	entry := ms.getEntry(shard, key)
	if entry == nil {
		entry = &memoryStoreEntry{
			expiresAt: ms.now().Add(ttl),
		}
		shard.entries[key] = entry
	}

	entry.counter++

	return entry.counter, nil
}

func (ms *MemoryKeyedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	shard := ms.shard(key)
	shard.Lock()
	defer shard.Unlock()

	entry := ms.getEntry(shard, key)
	if entry == nil {
		return 0, ErrKeyNotFound
	}

	return entry.expiresAt.Sub(ms.now()), nil
}

func (ms *MemoryKeyedStore) Delete(ctx context.Context, key string) error {
	shard := ms.shard(key)
	shard.Lock()
	defer shard.Unlock()

	delete(shard.entries, key)

	return nil
}

func (ms *MemoryKeyedStore) GC() {
	now := ms.now()

	removed := 0
	for _, shard := range ms.shards {
		shard.Lock()
		for key, entry := range shard.entries {
			if now.After(entry.expiresAt) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.Unlock()
	}

	if removed > 0 {
		metrics.expiredBucketsRemovedCounter.Add(float64(removed))
	}
}
