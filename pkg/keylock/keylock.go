// Package keylock serializes work on a key, such as a user pair.
package keylock

import (
	"context"
	"hash/fnv"
)

// Locker grants exclusive access to a key until unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

const defaultShards = 256

// Local is an in-process Locker. Keys are striped over a fixed set of
// shards, so two keys may share a shard and wait on each other.
type Local struct {
	shards []chan struct{}
}

func NewLocal(shards int) *Local {
	if shards <= 0 {
		shards = defaultShards
	}
	l := &Local{shards: make([]chan struct{}, shards)}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	shard := l.shards[l.index(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Local) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.shards)))
}

// Noop never blocks.
type Noop struct{}

func (Noop) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
