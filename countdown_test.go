package nodescan

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountdownReachesZeroAfterTicks(t *testing.T) {
	t.Parallel()

	countdown := NewCountdown(120)
	assert.Equal(t, "02m 00s", countdown.Label())

	for i := 0; i < 120; i++ {
		countdown.Tick()
	}
	assert.Equal(t, int64(0), countdown.Remaining())
	assert.Equal(t, "Epoch change imminent", countdown.Label())

	countdown.Tick()
	assert.Equal(t, int64(0), countdown.Remaining())
	assert.Equal(t, "Epoch change imminent", countdown.Label())
}

func TestCountdownLabelFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seconds int64
		want    string
	}{
		{seconds: 93784, want: "1d 02h 03m 04s"},
		{seconds: 3661, want: "01h 01m 01s"},
		{seconds: 59, want: "00m 59s"},
		{seconds: -5, want: "Epoch change imminent"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatCountdown(tt.seconds))
	}
}

func TestCountdownRunTicksWithClock(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	countdown := NewCountdown(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		countdown.Run(ctx, clk)
		close(done)
	}()

	// give Run time to register its ticker with the mock clock
	time.Sleep(20 * time.Millisecond)
	for i := int64(1); i <= 4; i++ {
		clk.Add(time.Second)
		want := 10 - i
		require.Eventually(t, func() bool { return countdown.Remaining() == want }, time.Second, time.Millisecond)
	}

	countdown.Reset(100)
	assert.Equal(t, int64(100), countdown.Remaining())

	cancel()
	<-done
}

func TestCountdownStarted(t *testing.T) {
	t.Parallel()

	countdown := NewCountdown(0)
	assert.False(t, countdown.Started())
	countdown.Reset(0)
	assert.True(t, countdown.Started())
	assert.True(t, NewCountdown(30).Started())
}
