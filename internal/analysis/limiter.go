package analysis

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is a transient rejection by the local token bucket.
	ErrRateLimited = eris.New("rate limit exceeded")
	// ErrQuotaExhausted means the daily call budget is spent.
	ErrQuotaExhausted = eris.New("daily quota exhausted")
)

// LimiterConfig configures a Limiter. Zero values disable the corresponding
// check.
type LimiterConfig struct {
	RPS        float64
	Burst      int
	DailyQuota int
	Clock      clockwork.Clock
}

// Limiter guards provider calls with a token bucket and a daily budget that
// resets at UTC midnight.
type Limiter struct {
	bucket *rate.Limiter
	quota  int
	clock  clockwork.Clock

	mu   sync.Mutex
	day  time.Time
	used int
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	l := &Limiter{quota: cfg.DailyQuota, clock: cfg.Clock}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return l
}

// Acquire takes one call from the budget, or returns ErrQuotaExhausted or
// ErrRateLimited. A rate-limited call does not consume quota.
func (l *Limiter) Acquire() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.roll(now)
	if l.quota > 0 && l.used >= l.quota {
		return ErrQuotaExhausted
	}
	if l.bucket != nil && !l.bucket.AllowN(now, 1) {
		return ErrRateLimited
	}
	l.used++
	return nil
}

// Remaining returns the calls left today, or -1 when no daily quota is set.
func (l *Limiter) Remaining() int {
	if l == nil || l.quota <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(l.clock.Now())
	return l.quota - l.used
}

func (l *Limiter) roll(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(l.day) {
		l.day = day
		l.used = 0
	}
}
