package adapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBearerTokenSource_CachesUntilExpiry verifies the token is fetched once
// and reused while valid.
func TestBearerTokenSource_CachesUntilExpiry(t *testing.T) {
	var fetches int32
	source := newBearerTokenSource(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&fetches, 1)
		return "tok", time.Hour, nil
	})

	for i := 0; i < 3; i++ {
		token, err := source.get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

// TestBearerTokenSource_SingleFlight verifies concurrent callers share one refresh.
func TestBearerTokenSource_SingleFlight(t *testing.T) {
	var fetches int32
	source := newBearerTokenSource(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&fetches, 1)
		time.Sleep(50 * time.Millisecond)
		return "tok", time.Hour, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := source.get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

// TestBearerTokenSource_Invalidate verifies invalidation forces a refetch.
func TestBearerTokenSource_Invalidate(t *testing.T) {
	var fetches int32
	source := newBearerTokenSource(func(ctx context.Context) (string, time.Duration, error) {
		return "tok", time.Hour, errOnSecondCall(&fetches)
	})

	_, err := source.get(context.Background())
	require.NoError(t, err)

	source.invalidate()

	_, err = source.get(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}

func errOnSecondCall(counter *int32) error {
	if atomic.AddInt32(counter, 1) > 1 {
		return errors.New("upstream down")
	}
	return nil
}

// TestBearerTokenSource_ExpiredRefetches verifies a short-lived token is replaced.
func TestBearerTokenSource_ExpiredRefetches(t *testing.T) {
	var fetches int32
	source := newBearerTokenSource(func(ctx context.Context) (string, time.Duration, error) {
		n := atomic.AddInt32(&fetches, 1)
		if n == 1 {
			// Expires inside the one-minute refresh headroom.
			return "short", time.Second, nil
		}
		return "long", time.Hour, nil
	})

	token, err := source.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "short", token)

	// The short token is within the headroom window, so this get refreshes.
	token, err = source.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "long", token)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}
