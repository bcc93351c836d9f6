package timing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when something sleeps or the test moves it.
type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1000, 0)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrInterrupted, err)
	}
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

func TestDelayWithoutReferenceSleepsFullTarget(t *testing.T) {
	clk := newFakeClock()
	sw := New(WithClock(clk.now, clk.sleep))

	scope := sw.Start(0)
	require.NoError(t, sw.DelayIfg(context.Background(), 5*time.Millisecond))
	scope.Close()

	assert.Equal(t, []time.Duration{5 * time.Millisecond}, clk.slept)
	assert.Equal(t, 5*time.Millisecond, sw.Delay())
}

func TestDelaySubtractsElapsedSinceLastFrame(t *testing.T) {
	clk := newFakeClock()
	sw := New(WithClock(clk.now, clk.sleep))

	sw.Start(0).Close()
	clk.t = clk.t.Add(3 * time.Millisecond)

	scope := sw.Start(0)
	require.NoError(t, sw.DelayIfg(context.Background(), 10*time.Millisecond))
	scope.Close()

	assert.Equal(t, []time.Duration{7 * time.Millisecond}, clk.slept)
	assert.Equal(t, 10*time.Millisecond, sw.Delay())
}

func TestDelayAlreadyElapsedDoesNotSleep(t *testing.T) {
	clk := newFakeClock()
	sw := New(WithClock(clk.now, clk.sleep))

	sw.Start(0).Close()
	clk.t = clk.t.Add(20 * time.Millisecond)

	sw.Start(0)
	require.NoError(t, sw.DelayIfg(context.Background(), 10*time.Millisecond))
	assert.Empty(t, clk.slept)
	assert.Equal(t, 20*time.Millisecond, sw.Delay())
}

func TestNewTsNanos(t *testing.T) {
	clk := newFakeClock()
	sw := New(WithClock(clk.now, clk.sleep))

	const ts = int64(1_000_000_000)
	sw.Start(ts).Close()

	sw.Start(ts)
	require.NoError(t, sw.DelayIfg(context.Background(), time.Millisecond))
	assert.Equal(t, ts+int64(time.Millisecond), sw.NewTsNanos())
}

func TestDelayInterrupted(t *testing.T) {
	sw := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := sw.DelayIfg(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, 0), ErrInterrupted)
	assert.ErrorIs(t, Sleep(ctx, time.Hour), ErrInterrupted)
}

func TestReset(t *testing.T) {
	clk := newFakeClock()
	sw := New(WithClock(clk.now, clk.sleep))

	sw.Start(0).Close()
	sw.Reset()
	clk.t = clk.t.Add(time.Hour)

	require.NoError(t, sw.DelayIfg(context.Background(), 2*time.Millisecond))
	assert.Equal(t, []time.Duration{2 * time.Millisecond}, clk.slept)
	assert.Equal(t, 2*time.Millisecond, sw.Slept())
}

func TestSleptCountsOnlyElapsedTime(t *testing.T) {
	clk := newFakeClock()
	// the sleeper is cut short after 4ms of a longer wait
	short := func(_ context.Context, d time.Duration) error {
		clk.t = clk.t.Add(min(d, 4*time.Millisecond))
		if d > 4*time.Millisecond {
			return ErrInterrupted
		}
		return nil
	}
	sw := New(WithClock(clk.now, short))

	sw.Start(0)
	assert.ErrorIs(t, sw.DelayIfg(context.Background(), 10*time.Millisecond), ErrInterrupted)
	assert.Equal(t, 4*time.Millisecond, sw.Slept())

	assert.ErrorIs(t, sw.Sleep(context.Background(), time.Second), ErrInterrupted)
	assert.Equal(t, 8*time.Millisecond, sw.Slept())

	require.NoError(t, sw.Sleep(context.Background(), 3*time.Millisecond))
	assert.Equal(t, 11*time.Millisecond, sw.Slept())
}
