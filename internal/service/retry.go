package service

import (
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/clarabridge/chat-sdk-go/internal/model"
)

// retryDelay computes the backoff before initialization attempt n (0-based).
// The full delay is base * multiplier^n seconds; the returned value is
// jittered uniformly into [2/3*full, full) so synchronized clients spread
// their retries.
func retryDelay(cfg *model.RetryConfiguration, baseSeconds int, attempt int, rng *rand.Rand) time.Duration {
	full := float64(baseSeconds) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	floor := full * 2 / 3
	jittered := floor + rng.Float64()*(full-floor)
	return time.Duration(jittered * float64(time.Second))
}

// isRetryableStatus reports whether an initialization failure with this HTTP
// status is worth retrying. Status 0 means the request never reached the
// server.
func isRetryableStatus(status int) bool {
	if status == 0 {
		return true
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// isInvalidAppStatus reports whether the status identifies the configured app
// id as wrong rather than the backend as unhealthy.
func isInvalidAppStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusNotFound
}
