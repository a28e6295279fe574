package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"actionit/backend/pkg/cache"
	"actionit/backend/pkg/errors"
	"actionit/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterOptions configures the per-caller token buckets
type RateLimiterOptions struct {
	// Limit is the refill rate in tokens per second
	Limit rate.Limit
	Burst int
	// WriteCost is charged for POST and DELETE; reads cost one token
	WriteCost int
	// ExpiryDuration drops buckets of callers idle for this long
	ExpiryDuration time.Duration
	// MaxClients bounds the number of tracked callers
	MaxClients int
	KeyFunc    func(*gin.Context) string
}

func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Limit:          5,
		Burst:          10,
		WriteCost:      1,
		ExpiryDuration: time.Hour,
		MaxClients:     10000,
		KeyFunc:        UserOrIPKey,
	}
}

// UserOrIPKey limits authenticated callers per user and anonymous ones per IP
func UserOrIPKey(c *gin.Context) string {
	if userID := c.GetString("userID"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter keeps one token bucket per caller. Idle buckets expire and the
// least recently seen caller is dropped once MaxClients is reached.
type RateLimiter struct {
	options RateLimiterOptions
	buckets *cache.Cache[*rate.Limiter]
	logger  *logger.Logger
}

func NewRateLimiter(log *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = UserOrIPKey
	}
	if opts.WriteCost < 1 {
		opts.WriteCost = 1
	}
	if opts.Burst < opts.WriteCost {
		opts.Burst = opts.WriteCost
	}
	if log == nil {
		log = logger.Discard()
	}

	cleanup := time.Minute
	if opts.ExpiryDuration > 0 && opts.ExpiryDuration < cleanup {
		cleanup = opts.ExpiryDuration
	}
	return &RateLimiter{
		options: opts,
		buckets: cache.New[*rate.Limiter](cache.Options{
			DefaultExpiration: opts.ExpiryDuration,
			CleanupInterval:   cleanup,
			MaxItems:          opts.MaxClients,
		}),
		logger: log.WithComponent("ratelimit"),
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := r.options.KeyFunc(c)
		cost := r.cost(c.Request.Method)

		if wait, ok := r.allow(key, cost); !ok {
			r.logger.Warn("Rate limit exceeded",
				"client", key,
				"route", c.FullPath(),
				"cost", cost,
			)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.Header("X-RateLimit-Limit", strconv.Itoa(r.options.Burst))
			_ = c.Error(errors.NewTooManyRequestsError(errors.CodeRateLimited, "Too many requests. Please try again later."))
			c.Abort()
			return
		}

		c.Next()
	}
}

// Stop ends the expiry loop
func (r *RateLimiter) Stop() {
	r.buckets.Close()
}

// Clients reports how many callers currently hold a bucket
func (r *RateLimiter) Clients() int {
	return r.buckets.Count()
}

func (r *RateLimiter) cost(method string) int {
	switch method {
	case http.MethodPost, http.MethodDelete:
		return r.options.WriteCost
	default:
		return 1
	}
}

// allow spends cost tokens from key's bucket. When the bucket is short it
// reports how long until enough tokens have refilled.
func (r *RateLimiter) allow(key string, cost int) (time.Duration, bool) {
	lim, ok := r.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(r.options.Limit, r.options.Burst)
	}
	// Re-setting refreshes the idle expiry.
	r.buckets.Set(key, lim)

	now := time.Now()
	if lim.AllowN(now, cost) {
		return 0, true
	}
	missing := float64(cost) - lim.TokensAt(now)
	if r.options.Limit <= 0 {
		return time.Second, false
	}
	wait := time.Duration(missing / float64(r.options.Limit) * float64(time.Second))
	if wait < time.Second {
		wait = time.Second
	}
	return wait, false
}
