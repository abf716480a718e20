package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	platformauth "github.com/xentri-app/xentri-api/platform/go/auth"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/problems"
)

// RateLimiterConfig holds the per-user token bucket settings.
type RateLimiterConfig struct {
	Rate            rate.Limit    // sustained requests per second per user
	Burst           int           // bucket size
	CleanupInterval time.Duration // idle limiters are dropped after twice this interval
}

// DefaultRateLimiterConfig allows 120 requests per minute per user.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(120.0 / 60.0),
		Burst:           120,
		CleanupInterval: 5 * time.Minute,
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RejectionRecorder is notified of every rejected request.
type RejectionRecorder interface {
	RateLimited()
}

// RateLimiter throttles API calls per authenticated user.
type RateLimiter struct {
	config   RateLimiterConfig
	recorder RejectionRecorder

	mu       sync.Mutex
	limiters map[string]*userLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts the background cleanup of idle limiters. Call Stop on shutdown.
func NewRateLimiter(config RateLimiterConfig, recorder RejectionRecorder) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:   config,
		recorder: recorder,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware must run after authentication. Anonymous requests are not throttled here.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, ok := platformauth.UserFromContext(r.Context())
		if !ok || creds == nil || creds.Id == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.limiterFor(creds.Id).Allow() {
			if rl.recorder != nil {
				rl.recorder.RateLimited()
			}
			platformlogging.FromContextOr(r.Context(), nil).Warn("rate limit exceeded", zap.String("user_id", creds.Id))

			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			problems.Write(w, r, problems.TooManyRequests("too many requests, "+problems.RetryHint+" later"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LimiterCount reports the number of tracked users.
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if ul, ok := rl.limiters[userID]; ok {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	limiter := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	rl.limiters[userID] = &userLimiter{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.config.Rate <= 0 {
		return 60
	}
	seconds := int(math.Ceil(1.0 / float64(rl.config.Rate)))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for userID, ul := range rl.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.limiters, userID)
		}
	}
}
