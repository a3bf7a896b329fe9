package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/qhomebase/iam/pkg/slogx"
)

// RateLimit is a token bucket refilled at Requests per Window.
type RateLimit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Limits groups the profiles applied to the route table.
type Limits struct {
	// Token guards token issuance and refresh.
	Token RateLimit
	// Admin guards role and override management.
	Admin RateLimit
	// Public guards unauthenticated reads such as the JWKS.
	Public RateLimit
}

// DefaultLimits returns the built-in profiles.
func DefaultLimits() Limits {
	return Limits{
		Token:  RateLimit{Requests: 30, Window: time.Minute, Burst: 10},
		Admin:  RateLimit{Requests: 60, Window: time.Minute, Burst: 20},
		Public: RateLimit{Requests: 1000, Window: time.Minute, Burst: 200},
	}
}

// LimitsFromEnv overrides the defaults with RATELIMIT_<PROFILE>_REQUESTS,
// RATELIMIT_<PROFILE>_WINDOW_SEC and RATELIMIT_<PROFILE>_BURST. Invalid
// values are ignored.
func LimitsFromEnv(getenv func(string) string) Limits {
	l := DefaultLimits()
	l.Token = l.Token.fromEnv(getenv, "TOKEN")
	l.Admin = l.Admin.fromEnv(getenv, "ADMIN")
	l.Public = l.Public.fromEnv(getenv, "PUBLIC")
	return l
}

func (rl RateLimit) fromEnv(getenv func(string) string, profile string) RateLimit {
	positive := func(field string) (int, bool) {
		n, err := strconv.Atoi(getenv("RATELIMIT_" + profile + "_" + field))
		return n, err == nil && n > 0
	}
	if n, ok := positive("REQUESTS"); ok {
		rl.Requests = n
	}
	if n, ok := positive("WINDOW_SEC"); ok {
		rl.Window = time.Duration(n) * time.Second
	}
	if n, ok := positive("BURST"); ok {
		rl.Burst = n
	}
	return rl
}

// KeyFunc picks the bucket a request is charged to. An empty key skips
// limiting.
type KeyFunc func(*http.Request) string

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the peer
// address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SubjectKey charges the authenticated user, falling back to the client IP
// for anonymous requests.
func SubjectKey(r *http.Request) string {
	if s, ok := SubjectFrom(r.Context()); ok && s.UserID != "" {
		return "user:" + s.UserID
	}
	return "ip:" + ClientIP(r)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one limiter per key and evicts keys idle for longer
// than ttl.
type limiterSet struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newLimiterSet(cfg RateLimit, now func() time.Time) *limiterSet {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(cfg.Requests, 1)
	}
	return &limiterSet{
		limit:     rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds()),
		burst:     cfg.Burst,
		ttl:       max(cfg.Window*2, 5*time.Minute),
		now:       now,
		entries:   map[string]*limiterEntry{},
		lastSweep: now(),
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.ttl {
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) >= s.ttl {
				delete(s.entries, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimitMiddleware rejects requests over cfg with 429 and a Retry-After
// header.
func RateLimitMiddleware(cfg RateLimit, key KeyFunc) Middleware {
	return rateLimit(newLimiterSet(cfg, time.Now), cfg, key)
}

func rateLimit(set *limiterSet, cfg RateLimit, key KeyFunc) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			lim := set.get(k)
			now := set.now()
			res := lim.ReserveN(now, 1)
			if delay := res.DelayFrom(now); delay > 0 {
				res.CancelAt(now)

				retry := max(int(delay.Round(time.Second)/time.Second), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))

				slogx.FromContext(r.Context()).Warn("rate limit exceeded",
					"key", k,
					"path", r.URL.Path,
					"retry_after", retry,
				)
				WriteError(w, http.StatusTooManyRequests, CodeRateLimitExceeded, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
