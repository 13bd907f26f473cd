package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/connector"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want connector.ErrorKind
	}{
		{"server error", &HTTPError{Status: 503}, connector.KindRecoverable},
		{"throttled", &HTTPError{Status: 429}, connector.KindRecoverable},
		{"request timeout", &HTTPError{Status: 408}, connector.KindRecoverable},
		{"bad request", &HTTPError{Status: 400}, connector.KindUnrecoverable},
		{"unauthorized", &HTTPError{Status: 401}, connector.KindUnrecoverable},
		{"deadline", context.DeadlineExceeded, connector.KindRecoverable},
		{"breaker open", gobreaker.ErrOpenState, connector.KindRecoverable},
		{"already classified", connector.Unrecoverable(errors.New("bad config")), connector.KindUnrecoverable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(tc.err)
			require.Error(t, err)
			assert.Equal(t, tc.want, connector.Classify(err))
			assert.ErrorIs(t, err, tc.err)
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestGuardOpensAfterRecoverableFailures(t *testing.T) {
	g := NewGuard("test", GuardConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()
	calls := 0
	failing := func(context.Context) (int, error) {
		calls++
		return 502, &HTTPError{Status: 502}
	}

	for range 2 {
		err := g.Do(ctx, failing)
		assert.True(t, connector.IsRecoverable(err))
	}
	err := g.Do(ctx, failing)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, connector.IsRecoverable(err))
	assert.Equal(t, 2, calls)
}

func TestGuardIgnoresUnrecoverableForBreaker(t *testing.T) {
	g := NewGuard("test", GuardConfig{FailureThreshold: 1})
	ctx := context.Background()
	rejected := func(context.Context) (int, error) { return 400, &HTTPError{Status: 400} }

	for range 3 {
		err := g.Do(ctx, rejected)
		assert.Equal(t, connector.KindUnrecoverable, connector.Classify(err))
	}
	assert.NoError(t, g.Do(ctx, func(context.Context) (int, error) { return 200, nil }))
}

func TestGuardRateLimitWaitIsBounded(t *testing.T) {
	g := NewGuard("test", GuardConfig{RPS: 0.001, Burst: 1, LimiterWait: 10 * time.Millisecond})
	ok := func(context.Context) (int, error) { return 200, nil }
	require.NoError(t, g.Do(context.Background(), ok))

	err := g.Do(context.Background(), ok)
	assert.True(t, connector.IsRecoverable(err))
}
