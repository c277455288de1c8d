package health

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCollector() *Collector {
	return NewCollector("", slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestCollect(t *testing.T) {
	c := newCollector()
	assert.Zero(t, c.Latest().CollectedAt)

	stats := c.Collect(context.Background())

	assert.Positive(t, stats.Goroutines)
	assert.Positive(t, stats.RamTotalMB)
	assert.LessOrEqual(t, stats.RamUsedMB, stats.RamTotalMB)
	assert.Positive(t, stats.ProcessRamMB)
	assert.GreaterOrEqual(t, stats.CPULoad, 0.0)
	assert.WithinDuration(t, time.Now(), stats.CollectedAt, time.Minute)
	assert.Equal(t, stats, c.Latest())
}

func TestCollect_BadDiskPathIsNotFatal(t *testing.T) {
	c := NewCollector("/does/not/exist", slog.New(slog.NewJSONHandler(io.Discard, nil)))

	stats := c.Collect(context.Background())
	assert.Zero(t, stats.DiskTotalGB)
	assert.Positive(t, stats.RamTotalMB)
}

func TestRun_CollectsImmediately(t *testing.T) {
	c := newCollector()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return !c.Latest().CollectedAt.IsZero() }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
