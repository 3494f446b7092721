package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ehr/records/internal/platform/apperr"
)

// RateLimit throttles clients by IP using store. Denied requests get a 429
// with the standard error body.
func RateLimit(store echomw.RateLimiterStore) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == "/health/db"
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden,
				apperr.Body{Error: "unable to identify client", Code: "forbidden"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			c.Response().Header().Set("Retry-After", "1")
			return echo.NewHTTPError(http.StatusTooManyRequests,
				apperr.Body{Error: "rate limit exceeded", Code: "rate_limited"})
		},
	})
}

// NewMemoryStore is a per-process token bucket store.
func NewMemoryStore(rps float64, burst int) echomw.RateLimiterStore {
	return echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(rps),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
}

// RedisStore is a fixed one-second window counter shared by every replica
// pointing at the same Redis. Each client may make max(ceil(rps), burst)
// requests per window.
type RedisStore struct {
	client  *redis.Client
	limit   int64
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRedisStore(client *redis.Client, rps float64, burst int, logger zerolog.Logger) *RedisStore {
	limit := int64(math.Ceil(rps))
	if int64(burst) > limit {
		limit = int64(burst)
	}
	return &RedisStore{
		client:  client,
		limit:   limit,
		timeout: 200 * time.Millisecond,
		logger:  logger,
		now:     time.Now,
	}
}

// NewRedisClient parses a redis:// URL and verifies the server is reachable.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Allow implements echomw.RateLimiterStore. Redis failures let the request
// through; throttling is not worth an outage.
func (s *RedisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := fmt.Sprintf("ratelimit:%s:%d", identifier, s.now().Unix())

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("client", identifier).Msg("rate limit store unavailable")
		return true, nil
	}
	return incr.Val() <= s.limit, nil
}
