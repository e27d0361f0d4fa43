// Package keylock 提供按 key 互斥的锁，用于保证同一曲目同一时刻只有一个转码/归档/恢复在执行。
package keylock

import (
	"sync"
	"time"

	"undersounds/logger"
)

type entry struct {
	mu      sync.Mutex
	refs    int
	started time.Time
}

// KeyedMutex serializes work per key. Entries are dropped once unreferenced.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

func (k *KeyedMutex) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Lock blocks until key is free and returns the unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	e := k.acquire(key)
	e.mu.Lock()
	e.started = time.Now()
	return k.unlocker(key, e)
}

// TryLock 非阻塞获取锁，已被占用时返回 false
func (k *KeyedMutex) TryLock(key string) (func(), bool) {
	e := k.acquire(key)
	if !e.mu.TryLock() {
		logger.Debug("锁已被占用", logger.String("key", key))
		k.release(key, e)
		return nil, false
	}
	e.started = time.Now()
	return k.unlocker(key, e), true
}

func (k *KeyedMutex) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			held := time.Since(e.started)
			e.mu.Unlock()
			k.release(key, e)
			logger.Debug("释放锁", logger.String("key", key), logger.Duration("held", held))
		})
	}
}

// Held reports whether some caller currently holds or waits on key.
func (k *KeyedMutex) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.entries[key]
	return ok
}

// Len returns the number of live keys.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
