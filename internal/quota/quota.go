// Package quota keeps the daily remote call budget.
//
// A Tracker refuses calls once the ceiling is reached instead of letting the
// remote service reject them. Calls are gated with Reserve and accounted with
// Commit (or handed back with Release when never attempted).
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrExhausted means the daily ceiling has been reached; no further calls
// may be made until the window resets.
var ErrExhausted = errors.New("daily quota exhausted")

// DefaultDailyLimit is the Data API default project quota.
const DefaultDailyLimit = 10_000

const ledgerTimeout = 5 * time.Second

// Ledger persists consumption so several processes share one budget.
type Ledger interface {
	// Load returns the units consumed in the window.
	Load(ctx context.Context, window string) (int64, error)
	// Add records n consumed units in the window, expiring at the reset boundary.
	Add(ctx context.Context, window string, n int64, expireAt time.Time) error
}

type Config struct {
	DailyLimit int64
	// Location decides where the daily window starts, nil means UTC.
	Location *time.Location
	Ledger   Ledger
	Log      logrus.FieldLogger
	Now      func() time.Time
}

type Tracker struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	reserved int64
	window   string
	resetAt  time.Time

	loc    *time.Location
	ledger Ledger
	log    logrus.FieldLogger
	now    func() time.Time
}

// New creates a tracker, seeding the consumed count from the ledger if one is set.
func New(ctx context.Context, cfg Config) (*Tracker, error) {
	t := &Tracker{
		limit:  cfg.DailyLimit,
		loc:    cfg.Location,
		ledger: cfg.Ledger,
		log:    cfg.Log,
		now:    cfg.Now,
	}
	if t.limit <= 0 {
		t.limit = DefaultDailyLimit
	}
	if t.loc == nil {
		t.loc = time.UTC
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.log == nil {
		t.log = logrus.StandardLogger()
	}

	t.roll()

	if t.ledger != nil {
		used, err := t.ledger.Load(ctx, t.window)
		if err != nil {
			return nil, err
		}
		t.used = min(used, t.limit)
	}

	return t, nil
}

// Reserve reports whether n more calls fit under the ceiling, holding them if so.
func (t *Tracker) Reserve(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roll()
	if t.used+t.reserved+int64(n) > t.limit {
		return false
	}

	t.reserved += int64(n)
	return true
}

// Release hands back n reserved units that were never used.
func (t *Tracker) Release(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reserved = max(0, t.reserved-int64(n))
}

// Commit turns n reserved units into consumed ones.
func (t *Tracker) Commit(ctx context.Context, n int) {
	t.mu.Lock()
	t.reserved = max(0, t.reserved-int64(n))
	t.used += int64(n)
	window, resetAt := t.window, t.resetAt
	t.mu.Unlock()

	t.persist(ctx, window, int64(n), resetAt)
}

// Exhaust marks the rest of the window as spent, used when the remote
// service reports its own quota is gone.
func (t *Tracker) Exhaust(ctx context.Context) {
	t.mu.Lock()
	left := t.limit - t.used
	t.used = t.limit
	window, resetAt := t.window, t.resetAt
	t.mu.Unlock()

	if left > 0 {
		t.persist(ctx, window, left, resetAt)
	}
}

func (t *Tracker) Used() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

func (t *Tracker) Limit() int64 {
	return t.limit
}

// Remaining is the number of units that can still be reserved.
func (t *Tracker) Remaining() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roll()
	return max(0, t.limit-t.used-t.reserved)
}

// ResetAt is the start of the next window.
func (t *Tracker) ResetAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resetAt
}

// roll starts a new window when the reset boundary has passed, t.mu must be held.
func (t *Tracker) roll() {
	now := t.now().In(t.loc)
	if !t.resetAt.IsZero() && now.Before(t.resetAt) {
		return
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.loc)
	rolled := !t.resetAt.IsZero()

	t.window = start.Format(time.DateOnly)
	t.resetAt = start.AddDate(0, 0, 1)
	t.used = 0

	if rolled {
		t.log.WithField("window", t.window).Info("quota window reset")
		t.load()
	}
}

// load seeds a new window from the ledger, other processes may already have
// spent part of it. t.mu must be held.
func (t *Tracker) load() {
	if t.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	used, err := t.ledger.Load(ctx, t.window)
	if err != nil {
		t.log.WithError(err).WithField("window", t.window).Error("loading quota consumption")
		return
	}
	t.used = min(used, t.limit)
}

func (t *Tracker) persist(ctx context.Context, window string, n int64, resetAt time.Time) {
	if t.ledger == nil {
		return
	}

	if err := t.ledger.Add(ctx, window, n, resetAt); err != nil {
		t.log.WithError(err).WithField("window", window).Error("persisting quota consumption")
	}
}
