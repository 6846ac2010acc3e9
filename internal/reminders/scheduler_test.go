package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", time.Date(2025, 3, 10, 7, 59, 0, 0, madrid), time.Date(2025, 3, 10, 8, 0, 0, 0, madrid)},
		{"exactly now moves to tomorrow", time.Date(2025, 3, 10, 8, 0, 0, 0, madrid), time.Date(2025, 3, 11, 8, 0, 0, 0, madrid)},
		{"after run", time.Date(2025, 3, 10, 20, 0, 0, 0, madrid), time.Date(2025, 3, 11, 8, 0, 0, 0, madrid)},
		{"utc input", time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC), time.Date(2025, 3, 10, 8, 0, 0, 0, madrid)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.now, 8, 0, madrid)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

type countingRunner struct {
	runs   int
	cancel context.CancelFunc
}

func (c *countingRunner) Run(context.Context) (Summary, error) {
	c.runs++
	if c.runs == 2 {
		c.cancel()
	}
	return Summary{}, nil
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &countingRunner{cancel: cancel}
	s := NewScheduler(runner, 8, 0, madrid, nil)

	var waits []time.Duration
	s.now = func() time.Time { return time.Date(2025, 3, 10, 7, 0, 0, 0, madrid) }
	s.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.GreaterOrEqual(t, runner.runs, 2)
	assert.Equal(t, time.Hour, waits[0])
}
