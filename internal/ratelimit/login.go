package ratelimit

import (
	"fmt"
	"net/http"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-grocery/internal/common"
)

// NewStore wires a fixed-window limiter store backed by Redis.
func NewStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// PerIP returns middleware limiting requests per client IP at the given
// formatted rate, e.g. "10-M" for ten per minute.
func PerIP(store limiter.Store, formatted string, onError func(error)) (func(http.Handler) http.Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	mw := stdlib.NewMiddleware(
		limiter.New(store, rate),
		stdlib.WithKeyGetter(common.ClientIP),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts, try again later", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			if onError != nil {
				onError(err)
			}
			common.JSONError(w, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable", nil)
		}),
	)
	return mw.Handler, nil
}
