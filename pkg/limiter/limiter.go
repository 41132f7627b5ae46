// Package limiter throttles requests with a token bucket whose
// parameters may be changed at runtime.
package limiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/KretovDmitry/ledger-service/internal/models/errs"
	"github.com/KretovDmitry/ledger-service/pkg/header"
	"golang.org/x/time/rate"
)

type DynamicRateLimiter struct {
	limiter  *rate.Limiter
	updates  chan rateParams
	interval time.Duration
	burst    int
	stop     func()
}

type rateParams struct {
	interval time.Duration
	burst    int
}

// NewDynamicRateLimiter refills one token every interval up to burst tokens.
// Call Close to release the update goroutine.
func NewDynamicRateLimiter(interval time.Duration, burst int) *DynamicRateLimiter {
	limiter := rate.NewLimiter(rate.Every(interval), burst)
	updates := make(chan rateParams)
	go func() {
		for params := range updates {
			limiter.SetLimit(rate.Every(params.interval))
			limiter.SetBurst(params.burst)
		}
	}()
	return &DynamicRateLimiter{
		limiter:  limiter,
		interval: interval,
		burst:    burst,
		updates:  updates,
		stop:     sync.OnceFunc(func() { close(updates) }),
	}
}

func (drl *DynamicRateLimiter) Wait(ctx context.Context) error {
	return drl.limiter.Wait(ctx)
}

func (drl *DynamicRateLimiter) Allow() bool {
	return drl.limiter.Allow()
}

func (drl *DynamicRateLimiter) Update(interval time.Duration, burst int) {
	drl.updates <- rateParams{interval: interval, burst: burst}
}

func (drl *DynamicRateLimiter) Close() {
	drl.stop()
}

// Middleware rejects requests with 429 while the bucket is empty.
func (drl *DynamicRateLimiter) Middleware(next http.Handler) http.Handler {
	f := func(w http.ResponseWriter, r *http.Request) {
		if !drl.Allow() {
			w.Header().Set(header.ContentType, header.ApplicationJSON)
			w.Header().Set(header.RetryAfter, fmt.Sprintf("%.0f", drl.interval.Seconds()+1))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errs.JSON{
				Error: fmt.Sprintf("%s: too many requests", errs.ErrRateLimit),
			})
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(f)
}
