// Package memory provides a process-local job lock.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// Locker implements crawler.JobLocker with an in-process map of leases.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

// New constructs a Locker.
func New() *Locker {
	return &Locker{leases: make(map[string]lease), now: time.Now}
}

// Acquire takes the lock for jobID for at most ttl. It returns
// crawler.ErrLocked when an unexpired lease is held elsewhere.
func (l *Locker) Acquire(_ context.Context, jobID string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.leases[jobID]; ok && now.Before(current.expires) {
		return nil, fmt.Errorf("acquire %s: %w", jobID, crawler.ErrLocked)
	}
	l.next++
	token := l.next
	l.leases[jobID] = lease{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.leases[jobID]; ok && current.token == token {
			delete(l.leases, jobID)
		}
		return nil
	}
	return release, nil
}
