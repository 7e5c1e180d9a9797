package devserver

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// failureLimiter tracks consecutive failures per key and enforces
// exponential backoff once maxFailures is reached. Keys are account ids or
// client IPs, never raw credentials.
type failureLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*attemptRecord
	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
	now         func() time.Time
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// loginMaxFailures is the number of consecutive failures before lockout begins.
	loginMaxFailures = 5
	// revealMaxFailures is lower since each attempt costs an argon2id derivation.
	revealMaxFailures = 5
	// ipMaxFailures applies across every account reached from one address.
	ipMaxFailures = 20

	baseLockout   = 1 * time.Minute
	maxLockout    = 15 * time.Minute
	ipMaxLockout  = 30 * time.Minute
	attemptExpiry = 1 * time.Hour
)

func newFailureLimiter(maxFailures int, base, ceiling time.Duration, now func() time.Time) *failureLimiter {
	return &failureLimiter{
		attempts:    make(map[string]*attemptRecord),
		maxFailures: maxFailures,
		baseLockout: base,
		maxLockout:  ceiling,
		now:         now,
	}
}

// check reports whether key is locked out and for how long.
func (rl *failureLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies
// baseLockout * 2^(failures - maxFailures), capped at maxLockout.
func (rl *failureLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	rec.failures++
	rec.lastFailure = rl.now()

	if rec.failures >= rl.maxFailures {
		shift := rec.failures - rl.maxFailures
		lockout := rl.baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > rl.maxLockout {
				lockout = rl.maxLockout
				break
			}
		}
		rec.lockedUntil = rec.lastFailure.Add(lockout)
	}
}

// recordSuccess resets the counter for key.
func (rl *failureLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records.
func (rl *failureLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(rl.attempts, key)
		}
	}
}

func (rl *failureLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.attempts)
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many failed attempts; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP returns the peer address of r. Proxy headers are ignored; the
// dev server is never deployed behind one.
func clientIP(r *http.Request) string {
	s := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String()
	}
	return s
}
