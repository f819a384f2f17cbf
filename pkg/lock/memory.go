package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fileferry/fileferry/internal/logger"
	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// entry is one held lock. The released channel is closed exactly once, when
// the holder releases or the reaper expires the entry, waking all waiters.
type entry struct {
	token     string
	expiresAt time.Time
	released  chan struct{}
}

// MemoryManager is the in-process lock manager.
//
// Waiters block on the holder's released channel or on the holder's TTL,
// whichever fires first, then race to re-acquire under the mutex. A
// background reaper removes expired entries even when no waiter is present,
// bounding memory.
type MemoryManager struct {
	mu      sync.Mutex
	entries map[string]*entry

	reaperInterval time.Duration
	stopCh         chan struct{}
	doneCh         chan struct{}
	closeOnce      sync.Once
}

// NewMemoryManager creates an in-process lock manager and starts its reaper.
func NewMemoryManager(reaperInterval time.Duration) *MemoryManager {
	if reaperInterval <= 0 {
		reaperInterval = DefaultReaperInterval
	}

	m := &MemoryManager{
		entries:        make(map[string]*entry),
		reaperInterval: reaperInterval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Acquire implements Manager.
func (m *MemoryManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	for {
		m.mu.Lock()
		now := time.Now()
		e, held := m.entries[key]

		if held && now.After(e.expiresAt) {
			// Holder exceeded its TTL: expire it in place so a waiter can
			// take over without waiting for the reaper.
			close(e.released)
			delete(m.entries, key)
			held = false
			logger.Warn("lock expired while held",
				logger.KeyLockKey, key,
				logger.KeyLockToken, e.token,
			)
		}

		if !held {
			token := uuid.New().String()
			m.entries[key] = &entry{
				token:     token,
				expiresAt: now.Add(ttl),
				released:  make(chan struct{}),
			}
			m.mu.Unlock()
			return token, nil
		}

		released := e.released
		holderDeadline := e.expiresAt
		m.mu.Unlock()

		// Wait for the holder to release or its TTL to lapse, bounded by
		// the caller's context.
		holderTimer := time.NewTimer(time.Until(holderDeadline))
		select {
		case <-ctx.Done():
			holderTimer.Stop()
			return "", ferrors.NewLockTimeoutError(key)
		case <-released:
			holderTimer.Stop()
		case <-holderTimer.C:
		}
	}
}

// Release implements Manager.
func (m *MemoryManager) Release(key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.token != token {
		// The TTL may already have reassigned the lock; releasing with a
		// stale token must not disturb the new holder.
		logger.Warn("release with stale lock token",
			logger.KeyLockKey, key,
			logger.KeyLockToken, token,
		)
		return nil
	}

	delete(m.entries, key)
	close(e.released)
	return nil
}

// Close stops the reaper.
func (m *MemoryManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
	})
	return nil
}

// Held reports whether key currently has an unexpired holder. Test helper.
func (m *MemoryManager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && time.Now().Before(e.expiresAt)
}

// reapLoop removes expired entries on a fixed interval.
func (m *MemoryManager) reapLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *MemoryManager) reap() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
			close(e.released)
			logger.Debug("reaped expired lock", logger.KeyLockKey, key)
		}
	}
}
