// Package ledger decides whether a recognized identity may be marked present
// and records accepted marks.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/sirupsen/logrus"
)

// DefaultWindow is the minimum time between two accepted marks of one identity.
const DefaultWindow = 60 * time.Second

// ErrPersistenceFailed is wrapped when an accepted mark could not be stored.
// The identity is left as if the attempt never happened.
var ErrPersistenceFailed = errors.New("attendance persistence failed")

// Reason explains a Decision.
type Reason string

const (
	ReasonMarked     Reason = "marked"
	ReasonInCooldown Reason = "in_cooldown"
)

// Decision is the result of TryMark. Record is set when Accepted;
// RetryAfter is set when the attempt fell inside the cooldown window.
type Decision struct {
	Accepted   bool                       `json:"accepted"`
	Reason     Reason                     `json:"reason"`
	Record     *database.AttendanceRecord `json:"record,omitempty"`
	RetryAfter time.Duration              `json:"retry_after,omitempty"`
}

// cooldown is the per-identity state. The zero value is idle.
type cooldown struct {
	mu      sync.Mutex
	until   time.Time
	removed bool // set by Prune; holders must fetch a fresh entry
}

// Ledger is the attendance state machine. It is safe for concurrent use;
// marks for different identities never wait on each other.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*cooldown

	window time.Duration
	store  database.AttendanceWriter
	newID  func() string
	log    logrus.FieldLogger
}

// New creates a ledger that persists through store. A non-positive window
// selects DefaultWindow.
func New(store database.AttendanceWriter, window time.Duration, log logrus.FieldLogger) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		entries: make(map[string]*cooldown),
		window:  window,
		store:   store,
		newID:   uuid.NewString,
		log:     log.WithField("component", "ledger"),
	}
}

// Window returns the configured cooldown window.
func (l *Ledger) Window() time.Duration { return l.window }

// lock returns the locked state for id.
func (l *Ledger) lock(id string) *cooldown {
	for {
		l.mu.Lock()
		c, ok := l.entries[id]
		if !ok {
			c = &cooldown{}
			l.entries[id] = c
		}
		l.mu.Unlock()

		c.mu.Lock()
		if !c.removed {
			return c
		}
		c.mu.Unlock()
	}
}

// TryMark records attendance for identity at now unless the identity is still
// cooling down from an earlier accepted mark. A rejected attempt does not
// extend the window. If the store write fails the identity is restored to its
// previous state and the error wraps ErrPersistenceFailed.
func (l *Ledger) TryMark(ctx context.Context, identity database.Identity, now time.Time) (Decision, error) {
	if identity.ID == "" {
		return Decision{}, errors.New("identity ID is required")
	}

	c := l.lock(identity.ID)
	defer c.mu.Unlock()

	if now.Before(c.until) {
		return Decision{
			Reason:     ReasonInCooldown,
			RetryAfter: c.until.Sub(now),
		}, nil
	}

	prev := c.until
	c.until = now.Add(l.window)

	rec := database.AttendanceRecord{
		ID:          l.newID(),
		IdentityID:  identity.ID,
		Name:        identity.Name,
		Role:        identity.Role,
		Branch:      identity.Branch,
		Designation: identity.Designation,
		Date:        now.Format(database.DateLayout),
		TimeOfDay:   now.Format(database.TimeLayout),
		Timestamp:   now,
	}

	if err := l.store.AppendAttendance(ctx, rec); err != nil {
		c.until = prev
		l.log.WithFields(logrus.Fields{
			"identity_id": identity.ID,
			"error":       err,
		}).Error("Failed to persist attendance record")
		return Decision{}, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	l.log.WithFields(logrus.Fields{
		"identity_id": identity.ID,
		"record_id":   rec.ID,
	}).Info("Attendance marked")

	return Decision{Accepted: true, Reason: ReasonMarked, Record: &rec}, nil
}

// History returns stored records matching filter, newest first.
func (l *Ledger) History(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	records, err := l.store.QueryAttendance(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	return records, nil
}

// Cooldowns returns how many identities are still cooling down at now.
func (l *Ledger) Cooldowns(now time.Time) int {
	l.mu.Lock()
	entries := make([]*cooldown, 0, len(l.entries))
	for _, c := range l.entries {
		entries = append(entries, c)
	}
	l.mu.Unlock()

	n := 0
	for _, c := range entries {
		c.mu.Lock()
		if now.Before(c.until) {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

// Prune forgets identities whose window has expired at now and returns how
// many were removed. Forgetting an idle identity does not change any decision.
func (l *Ledger) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, c := range l.entries {
		// TryLock: an entry being marked right now is not idle.
		if !c.mu.TryLock() {
			continue
		}
		if !now.Before(c.until) {
			c.removed = true
			delete(l.entries, id)
			removed++
		}
		c.mu.Unlock()
	}
	return removed
}
