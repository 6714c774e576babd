package services

import (
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultMaxSends    = 5
	DefaultSendWindow  = 10 * time.Minute
)

type GuardOptions struct {
	MaxAttempts int // failed verifications before lockout; 0 disables
	MaxSends    int // issues allowed per identity inside SendWindow; 0 disables
	SendWindow  time.Duration
	Now         func() time.Time
}

type guardEntry struct {
	failures int
	sends    []time.Time
}

// VerificationGuard is the session-side policy around OTPService:
// it counts failed attempts since the last issue and throttles resends.
type VerificationGuard struct {
	mu      sync.Mutex
	entries map[string]*guardEntry

	maxAttempts int
	maxSends    int
	window      time.Duration
	now         func() time.Time
}

func NewVerificationGuard(opts GuardOptions) *VerificationGuard {
	g := &VerificationGuard{
		entries:     make(map[string]*guardEntry),
		maxAttempts: opts.MaxAttempts,
		maxSends:    opts.MaxSends,
		window:      opts.SendWindow,
		now:         opts.Now,
	}
	if g.window <= 0 {
		g.window = DefaultSendWindow
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *VerificationGuard) entry(identity string) *guardEntry {
	e, ok := g.entries[identity]
	if !ok {
		e = &guardEntry{}
		g.entries[identity] = e
	}
	return e
}

// AllowSend records a send for identity, or returns ErrResendThrottled
// if the window is already full. Rejected calls are not recorded.
func (g *VerificationGuard) AllowSend(identity string) error {
	if g.maxSends <= 0 {
		return nil
	}
	now := g.now()
	cutoff := now.Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entry(identity)

	kept := e.sends[:0]
	for _, t := range e.sends {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.sends = kept

	if len(e.sends) >= g.maxSends {
		return ErrResendThrottled
	}
	e.sends = append(e.sends, now)
	return nil
}

// Issued resets the attempt counter; a new code gets a fresh set of attempts.
func (g *VerificationGuard) Issued(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[identity]; ok {
		e.failures = 0
	}
}

// Locked reports whether identity has used up its attempts.
func (g *VerificationGuard) Locked(identity string) bool {
	if g.maxAttempts <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[identity]
	return ok && e.failures >= g.maxAttempts
}

// RecordFailure returns the failure count after incrementing.
func (g *VerificationGuard) RecordFailure(identity string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entry(identity)
	e.failures++
	return e.failures
}

func (g *VerificationGuard) Verified(identity string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[identity]; ok {
		e.failures = 0
		if len(e.sends) == 0 {
			delete(g.entries, identity)
		}
	}
}

// Sweep drops entries with no failures and no sends inside the window.
func (g *VerificationGuard) Sweep() int {
	cutoff := g.now().Add(-g.window)

	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for id, e := range g.entries {
		live := false
		for _, t := range e.sends {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live && e.failures == 0 {
			delete(g.entries, id)
			removed++
		}
	}
	return removed
}
