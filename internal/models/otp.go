package models

import "time"

// OTPRecord is the single pending code for one identity.
// A record past ExpiresAt stays in the store until it is overwritten or swept.
type OTPRecord struct {
	Identity  string    `json:"identity"`
	Code      string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether now is strictly past the deadline.
func (r OTPRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// TTL is the validity window the record was issued with.
func (r OTPRecord) TTL() time.Duration {
	return r.ExpiresAt.Sub(r.IssuedAt)
}
