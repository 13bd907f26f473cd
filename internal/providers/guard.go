// Package providers holds what the delivery plugins share: a rate limiter and
// circuit breaker around outbound calls, and the mapping from transport
// outcomes to recoverable and unrecoverable dispatch errors.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"courier/internal/connector"
	"courier/internal/observability"
)

// HTTPError is a non-2xx provider answer.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider answered %d", e.Status)
	}
	return fmt.Sprintf("provider answered %d: %s", e.Status, e.Body)
}

// Classify wraps err as a connector.DispatchError. Timeouts, 408, 429, 5xx and
// transport failures are recoverable; other 4xx answers are not.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var de *connector.DispatchError
	if errors.As(err, &de) {
		return err
	}
	var he *HTTPError
	if errors.As(err, &he) {
		if RetryableStatus(he.Status) {
			return connector.Recoverable(err)
		}
		return connector.Unrecoverable(err)
	}
	// Timeouts, refused connections and an open breaker all pass with time.
	return connector.Recoverable(err)
}

func RetryableStatus(status int) bool {
	return status == 408 || status == 429 || (status >= 500 && status <= 599)
}

type GuardConfig struct {
	// RPS of zero disables rate limiting.
	RPS   float64
	Burst int
	// Consecutive recoverable failures that open the breaker. Zero means 10.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open. Zero means 20s.
	OpenTimeout time.Duration
	// LimiterWait bounds the wait for a rate limiter token. Zero means 2s.
	LimiterWait time.Duration
}

// Guard protects one provider. It is safe for concurrent use.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	wait    time.Duration
}

func NewGuard(name string, cfg GuardConfig) *Guard {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 10
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	g := &Guard{name: name, wait: cfg.LimiterWait}
	if g.wait <= 0 {
		g.wait = 2 * time.Second
	}
	if cfg.RPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(cfg.Burst, 1))
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= threshold },
		// Unrecoverable rejections do not count against the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || connector.Classify(err) == connector.KindUnrecoverable
		},
	})
	return g
}

// Do runs call under the limiter and the breaker and returns its result with
// the error classified. call reports the HTTP status it saw, or 0.
func (g *Guard) Do(ctx context.Context, call func(ctx context.Context) (int, error)) error {
	if g.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, g.wait)
		err := g.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.ProviderCalls.WithLabelValues(g.name, "rate_limited_local", "0").Inc()
			return connector.Recoverable(fmt.Errorf("%s: local rate limit: %w", g.name, err))
		}
	}

	var status int
	_, err := g.breaker.Execute(func() (any, error) {
		var err error
		status, err = call(ctx)
		return nil, Classify(err)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.ProviderCalls.WithLabelValues(g.name, "cb_open", "0").Inc()
		return connector.Recoverable(fmt.Errorf("%s: %w", g.name, err))
	case err != nil:
		observability.ProviderCalls.WithLabelValues(g.name, "error", strconv.Itoa(status)).Inc()
		return err
	}
	observability.ProviderCalls.WithLabelValues(g.name, "ok", strconv.Itoa(status)).Inc()
	return nil
}
