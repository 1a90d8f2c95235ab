package orchestrator

import (
	"hash/fnv"
	"sync"
)

// lockShards is the fixed shard count of the keyed mutex. Collisions only
// cost unnecessary serialization, never incorrectness.
const lockShards = 64

// keyedMutex serializes work per agent id with a fixed set of shards. The
// reducer holds the lock for the full step, so at most one event per agent is
// in flight at any instant.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock function.
func (m *keyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	shard := &m.shards[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}
