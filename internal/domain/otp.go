package domain

import "time"

// OtpSession is the issuance state for one phone number.
type OtpSession struct {
	Phone          string     `db:"phone" bson:"_id"`
	OtpHash        string     `db:"otp_hash" bson:"otp_hash"`
	ExpiresAt      time.Time  `db:"expires_at" bson:"expires_at"`
	VerifyAttempts int        `db:"verify_attempts" bson:"verify_attempts"`
	SendCount      int        `db:"send_count" bson:"send_count"`
	FirstSentAt    *time.Time `db:"first_sent_at" bson:"first_sent_at,omitempty"`
	LastSentAt     *time.Time `db:"last_sent_at" bson:"last_sent_at,omitempty"`
	BlockedUntil   *time.Time `db:"blocked_until" bson:"blocked_until,omitempty"`
	// Version is bumped on every write and used for optimistic concurrency
	// by stores without row locks.
	Version   int64     `db:"version" bson:"version"`
	CreatedAt time.Time `db:"created_at" bson:"created_at"`
	UpdatedAt time.Time `db:"updated_at" bson:"updated_at"`
}

// IsBlocked reports whether the lockout is still in force at now.
func (s *OtpSession) IsBlocked(now time.Time) bool {
	return s != nil && s.BlockedUntil != nil && s.BlockedUntil.After(now)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *OtpSession) Clone() *OtpSession {
	if s == nil {
		return nil
	}
	c := *s
	c.FirstSentAt = cloneTime(s.FirstSentAt)
	c.LastSentAt = cloneTime(s.LastSentAt)
	c.BlockedUntil = cloneTime(s.BlockedUntil)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
