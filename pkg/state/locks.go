package state

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// KeyedMutex serializes mutation per entity id so a reassign and a
// concurrent location ping cannot interleave on the same record.
type KeyedMutex struct {
	shards [lockShards]sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

func (m *KeyedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%lockShards]
}

func (m *KeyedMutex) Lock(key string)   { m.shard(key).Lock() }
func (m *KeyedMutex) Unlock(key string) { m.shard(key).Unlock() }
