// Package syncutil provides in-process locking keyed by entity id.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 64

// KeyedMutex serializes work per key over a fixed pool of channel-backed
// locks. Distinct keys may share a shard; that only costs throughput.
// Locks are per process; cross-process exclusion belongs to the store.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex creates an unlocked KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock acquires the lock for key or gives up when ctx is done. The returned
// unlock must be called exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (unlock func(), err error) {
	shard := m.shards[shardOf(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
