package cache

import (
	"context"

	"github.com/ReneKroon/ttlcache"
)

// Memory is an in-process cache. Records live until Close.
type Memory struct {
	cacher *ttlcache.Cache
}

var _ Cache = &Memory{}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	cacher := ttlcache.NewCache()
	cacher.SkipTtlExtensionOnHit(true)
	return &Memory{cacher: cacher}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (*Record, error) {
	val, ok := m.cacher.Get(key)
	if !ok {
		return nil, ErrNoSuchKey
	}
	rec := *val.(*Record)
	return &rec, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, rec *Record) error {
	stored := *rec
	m.cacher.Set(key, &stored)
	return nil
}

// Close stops the cache's background goroutine.
func (m *Memory) Close() error {
	m.cacher.Close()
	return nil
}
