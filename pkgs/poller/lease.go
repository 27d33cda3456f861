package poller

import (
	"errors"
	"fmt"
	"sync"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
)

// ErrAlreadyHeld is returned when a lease for the key is already active.
// Acquiring re-entrantly never mutates the existing lease.
var ErrAlreadyHeld = errors.New("poll lease already held")

// LeaseRegistry enforces the at-most-one-poll-per-key invariant. Each lease
// owns a cancellation token; releasing the lease cancels it.
type LeaseRegistry struct {
	mu   sync.Mutex
	held map[string]*Lease
}

// Lease is an exclusive handle on a poll key.
type Lease struct {
	key      string
	registry *LeaseRegistry
	token    *Token
}

// NewLeaseRegistry creates an empty registry.
func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{held: make(map[string]*Lease)}
}

// SubmissionKey builds the canonical lease key for a submission poll.
func SubmissionKey(jobID int64, submissionID uint64) string {
	return fmt.Sprintf("%d:%d", jobID, submissionID)
}

// Acquire takes the lease for key, or ErrAlreadyHeld if it is active.
func (r *LeaseRegistry) Acquire(key string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[key]; ok {
		return nil, ErrAlreadyHeld
	}

	lease := &Lease{key: key, registry: r, token: NewToken()}
	r.held[key] = lease
	metrics.ActiveLeases.Inc()
	return lease, nil
}

// Active reports whether a lease for key is currently held.
func (r *LeaseRegistry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

// Keys returns the currently held lease keys.
func (r *LeaseRegistry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.held))
	for k := range r.held {
		keys = append(keys, k)
	}
	return keys
}

// CancelAll cancels and releases every held lease. Used when the wallet's
// chain changes and all in-flight work must stop.
func (r *LeaseRegistry) CancelAll() {
	r.mu.Lock()
	leases := make([]*Lease, 0, len(r.held))
	for _, l := range r.held {
		leases = append(leases, l)
	}
	r.mu.Unlock()

	for _, l := range leases {
		l.Release()
	}
}

// Token returns the lease's cancellation token.
func (l *Lease) Token() *Token {
	return l.token
}

// Key returns the lease key.
func (l *Lease) Key() string {
	return l.key
}

// Release cancels the lease token and frees the key. Safe to call more
// than once.
func (l *Lease) Release() {
	l.token.Cancel()

	l.registry.mu.Lock()
	defer l.registry.mu.Unlock()
	if current, ok := l.registry.held[l.key]; ok && current == l {
		delete(l.registry.held, l.key)
		metrics.ActiveLeases.Dec()
	}
}
