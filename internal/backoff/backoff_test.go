package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelaySchedule(t *testing.T) {
	cfg := Config{Initial: time.Second, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{64, 30 * time.Second},
	}

	for _, tt := range tests {
		got := cfg.Delay(tt.attempt)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
		t.Logf("attempt %d -> %v", tt.attempt, got)
	}
}

func TestBackoffResets(t *testing.T) {
	b := New(Config{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond})

	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
	assert.Equal(t, 40*time.Millisecond, b.Next())
	assert.Equal(t, 4, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestNewAppliesDefaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, DefaultConfig().Initial, b.Next())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Initial: 0, Max: time.Second}.Validate())
	assert.Error(t, Config{Initial: time.Second, Max: time.Millisecond}.Validate())
	assert.Error(t, Config{Initial: time.Second, Max: time.Second, MaxRetries: -1}.Validate())
}

func TestSleepInterruptedByDone(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	done := make(chan struct{})
	close(done)

	assert.False(t, Sleep(clk, time.Hour, done))
}

func TestSleepWaitsForClock(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	result := make(chan bool, 1)

	go func() { result <- Sleep(clk, time.Second, nil) }()

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	assert.True(t, <-result)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	cfg := Config{Initial: time.Second, Max: 4 * time.Second}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(context.Background(), clk, cfg, "test: connect", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("refused")
			}
			return nil
		})
	}()

	require.NoError(t, clk.WaitAdvance(1*time.Second, time.Second, 1))
	require.NoError(t, clk.WaitAdvance(2*time.Second, time.Second, 1))

	require.NoError(t, <-done)
	assert.Equal(t, 3, calls)
}

func TestRetryMaxRetriesExceeded(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	cfg := Config{Initial: time.Second, Max: time.Second, MaxRetries: 1}
	refused := errors.New("refused")

	done := make(chan error, 1)
	go func() {
		done <- Retry(context.Background(), clk, cfg, "test: connect", func(context.Context) error {
			return refused
		})
	}()

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetryHonoursContext(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, clk, DefaultConfig(), "test: connect", func(context.Context) error {
		t.Fatal("must not be called with a cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
