package utils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-pass/internal/clock"
)

// Circuit Breaker Tests

func newTestBreaker(c clock.Clock) *CircuitBreaker {
	return NewCircuitBreakerWithSettings("test", BreakerSettings{
		MaxRequests:         1,
		Timeout:             10 * time.Second,
		Interval:            time.Minute,
		ConsecutiveFailures: 3,
		MinRequests:         5,
		FailureRatio:        0.6,
		Clock:               c,
	})
}

func succeed(context.Context) error { return nil }

var errRemote = errors.New("remote failure")

func fail(context.Context) error { return errRemote }

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("authority")

	assert.Equal(t, "authority", cb.Name())
	assert.Equal(t, uint32(1), cb.maxRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 30*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, uint32(5), cb.consecutiveFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := newTestBreaker(clock.Fake(time.Unix(0, 0)))

	err := cb.Execute(context.Background(), succeed)

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb := newTestBreaker(clock.Fake(time.Unix(0, 0)))

	err := cb.Execute(context.Background(), fail)

	assert.ErrorIs(t, err, errRemote)
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestCircuitBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(clock.Fake(time.Unix(0, 0)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	}

	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_TripsOnFailureRatio(t *testing.T) {
	cb := newTestBreaker(clock.Fake(time.Unix(0, 0)))
	ctx := context.Background()

	// four failures in six requests, never three in a row
	for _, req := range []func(context.Context) error{fail, fail, succeed, fail, succeed} {
		_ = cb.Execute(ctx, req)
	}
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	cb := newTestBreaker(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	c.Advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	cb := newTestBreaker(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	c.Advance(10 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errRemote)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	cb := newTestBreaker(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	c.Advance(10 * time.Second)

	probing := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CancelledContextNotCounted(t *testing.T) {
	cb := newTestBreaker(clock.Fake(time.Unix(0, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().Requests)
}

func TestCircuitBreaker_IntervalClearsCounts(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	cb := newTestBreaker(c)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	c.Advance(time.Minute + time.Second)
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(ctx, succeed)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(50), cb.Counts().TotalSuccesses)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := newTestBreaker(clock.Fake(time.Unix(0, 0)))

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_StateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

// Random Tests

func TestGenerateBaseSecret(t *testing.T) {
	a, err := GenerateBaseSecret()
	require.NoError(t, err)
	b, err := GenerateBaseSecret()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestGenerateTicketID(t *testing.T) {
	id := GenerateTicketID()
	assert.True(t, strings.HasPrefix(id, "tkt_"))
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, GenerateTicketID())
}

func TestGenerateLookupHint(t *testing.T) {
	hint := GenerateLookupHint()
	assert.Len(t, hint, 32)
	assert.False(t, strings.HasPrefix(hint, "tkt_"))
	assert.NotEqual(t, hint, GenerateLookupHint())
}

// Redis Client Tests

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")

	err := RedisHealthCheck(context.Background(), db)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()

	expectedError := errors.New("connection failed")
	mock.ExpectPing().SetErr(expectedError)

	err := RedisHealthCheck(context.Background(), db)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Benchmark Tests

func BenchmarkCircuitBreaker_Execute_Success(b *testing.B) {
	cb := NewCircuitBreaker("benchmark")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cb.Execute(ctx, succeed)
	}
}
