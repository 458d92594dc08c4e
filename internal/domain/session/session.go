// Package session defines domain models for timed work sessions.
package session

import (
	"strings"
	"time"

	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

// MaxTitleLength bounds session titles.
const MaxTitleLength = 200

// Session is a timed block of focused work that notes and images attach to.
type Session struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"` // nil while running
	PlannedDuration time.Duration `json:"planned_duration,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	SyncVersion int64     `json:"-"` // Remote generation last reconciled, 0 if never
	SyncedAt    time.Time `json:"-"` // Zero if never reconciled
}

// IsActive returns true if the session has not ended.
func (s *Session) IsActive() bool {
	return s.EndedAt == nil
}

// Elapsed returns how long the session ran, measured to now while it is active.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.EndedAt == nil {
		return now.Sub(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Overrun reports how far past the planned duration the session ran.
// Returns zero when no plan was set or the plan was met.
func (s *Session) Overrun(now time.Time) time.Duration {
	if s.PlannedDuration <= 0 {
		return 0
	}
	if over := s.Elapsed(now) - s.PlannedDuration; over > 0 {
		return over
	}
	return 0
}

// End stops the session at t.
func (s *Session) End(t time.Time) error {
	if !s.IsActive() {
		return domainErrors.Validation("session already ended")
	}
	if t.Before(s.StartedAt) {
		return domainErrors.Validation("session cannot end before it starts")
	}
	ended := t.UTC()
	s.EndedAt = &ended
	return nil
}

// Validate checks the session's invariants.
func (s *Session) Validate() error {
	if s.ID == "" {
		return domainErrors.Validation("session ID is required")
	}
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return domainErrors.Validation("session title is required")
	}
	if len(title) > MaxTitleLength {
		return domainErrors.Validation("session title is too long")
	}
	if s.StartedAt.IsZero() {
		return domainErrors.Validation("session start time is required")
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return domainErrors.Validation("session cannot end before it starts")
	}
	if s.PlannedDuration < 0 {
		return domainErrors.Validation("planned duration cannot be negative")
	}
	return nil
}

// Filter defines criteria for querying sessions.
type Filter struct {
	ActiveOnly bool      // Only sessions that have not ended
	Since      time.Time // Started at or after (zero for all)
	Limit      int       // Maximum results (0 for all)
}

// StartOptions contains parameters for starting a new session.
type StartOptions struct {
	Title           string        // Generated when empty
	Description     string        // Optional free text
	PlannedDuration time.Duration // Optional target length
}

// UpdateOptions lists editable session fields. Nil fields are left unchanged.
type UpdateOptions struct {
	Title           *string
	Description     *string
	PlannedDuration *time.Duration
}
