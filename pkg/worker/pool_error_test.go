package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_StopTimeout(t *testing.T) {
	p := NewPool(1, 10, func(ctx context.Context, _ transformJob) error {
		select {
		case <-time.After(10 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	require.NoError(t, p.Start(context.Background()))
	_ = p.Submit(transformJob{id: 1})
	time.Sleep(10 * time.Millisecond)

	err := p.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
}

func TestNewPool_PanicCarriesSentinel(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r, "nil process function must panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrNilProcessor)
	}()
	NewPool[transformJob](5, 100, nil)
}

// The sentinels are returned unwrapped so callers can compare directly as
// well as through errors.Is.
func TestPool_SentinelsUnwrapped(t *testing.T) {
	p := NewPool(2, 10, noopProcess)

	err := p.Submit(transformJob{id: 1})
	assert.ErrorIs(t, err, ErrPoolNotStarted)
	assert.Equal(t, ErrPoolNotStarted, err)
}
