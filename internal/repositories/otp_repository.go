package repositories

import (
	"context"
	"sync"
	"time"

	"devdeakin/internal/models"
)

// OTPRepository keeps one pending code per identity in process memory.
// Everything is lost on restart; verification then answers "not found".
type OTPRepository struct {
	mu      sync.RWMutex
	records map[string]models.OTPRecord
	now     func() time.Time
}

func NewOTPRepository() *OTPRepository {
	return NewOTPRepositoryWithClock(time.Now)
}

func NewOTPRepositoryWithClock(now func() time.Time) *OTPRepository {
	if now == nil {
		now = time.Now
	}
	return &OTPRepository{
		records: make(map[string]models.OTPRecord),
		now:     now,
	}
}

// Put replaces whatever is stored for identity. The previous code stops working immediately.
func (r *OTPRepository) Put(identity, code string, ttl time.Duration) models.OTPRecord {
	issuedAt := r.now()
	rec := models.OTPRecord{
		Identity:  identity,
		Code:      code,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}

	r.mu.Lock()
	r.records[identity] = rec
	r.mu.Unlock()
	return rec
}

// Get does not look at the deadline; callers compare ExpiresAt themselves.
func (r *OTPRepository) Get(identity string) (models.OTPRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[identity]
	return rec, ok
}

func (r *OTPRepository) Delete(identity string) {
	r.mu.Lock()
	delete(r.records, identity)
	r.mu.Unlock()
}

// ConsumeIfMatch deletes the record only if it still holds code.
// Two concurrent verifications of the same code cannot both succeed.
func (r *OTPRepository) ConsumeIfMatch(identity, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[identity]
	if !ok || rec.Code != code {
		return false
	}
	delete(r.records, identity)
	return true
}

func (r *OTPRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Sweep removes expired records and returns how many were dropped.
func (r *OTPRepository) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.records {
		if rec.Expired(now) {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
// onSweep, if set, receives the count of each pass.
func (r *OTPRepository) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := r.Sweep()
			if onSweep != nil {
				onSweep(n)
			}
		}
	}
}
