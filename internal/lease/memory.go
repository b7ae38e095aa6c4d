package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memLease struct {
	token   string
	expires time.Time
}

// MemoryLocker only excludes runs within one process.
type MemoryLocker struct {
	mu    sync.Mutex
	items map[string]memLease
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{items: map[string]memLease{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if it, ok := l.items[key]; ok && (it.expires.IsZero() || now.Before(it.expires)) {
		return nil, false, nil
	}
	it := memLease{token: uuid.NewString()}
	if ttl > 0 {
		it.expires = now.Add(ttl)
	}
	l.items[key] = it
	return &memHandle{locker: l, key: key, token: it.token}, true, nil
}

type memHandle struct {
	locker *MemoryLocker
	key    string
	token  string
	once   sync.Once
}

func (h *memHandle) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.items[h.key]
	if !ok || cur.token != h.token {
		return false, nil
	}
	if ttl > 0 {
		cur.expires = l.now().Add(ttl)
	}
	l.items[h.key] = cur
	return true, nil
}

func (h *memHandle) Release() {
	h.once.Do(func() {
		l := h.locker
		l.mu.Lock()
		if cur, ok := l.items[h.key]; ok && cur.token == h.token {
			delete(l.items, h.key)
		}
		l.mu.Unlock()
	})
}
