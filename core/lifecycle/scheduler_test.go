package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"undersounds/core/streaming"

	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	runs int32
	days int32
}

func (c *countingSweeper) SweepAll(_ context.Context, days int) (streaming.SweepResult, error) {
	atomic.AddInt32(&c.runs, 1)
	atomic.StoreInt32(&c.days, int32(days))
	return streaming.SweepResult{}, nil
}

type countingArchiver struct{ runs int32 }

func (c *countingArchiver) ArchiveInactive(context.Context, time.Duration) (ArchiveSummary, error) {
	atomic.AddInt32(&c.runs, 1)
	return ArchiveSummary{}, nil
}

func TestSchedulerRunsJobsUntilStopped(t *testing.T) {
	sw := &countingSweeper{}
	ar := &countingArchiver{}
	s := NewScheduler(sw, ar, SchedulerConfig{
		SweepInterval:   10 * time.Millisecond,
		ArchiveInterval: 10 * time.Millisecond,
		ArchiveAfter:    time.Hour,
	})

	s.Start(context.Background())
	s.Start(context.Background()) // no-op
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sw.runs) >= 2 && atomic.LoadInt32(&ar.runs) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(streaming.DefaultVariantMaxAgeDays), atomic.LoadInt32(&sw.days))

	s.Stop()
	s.Stop()
	after := atomic.LoadInt32(&sw.runs)
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&sw.runs))
}

func TestSchedulerDisabledJobs(t *testing.T) {
	sw := &countingSweeper{}
	ar := &countingArchiver{}
	s := NewScheduler(sw, ar, SchedulerConfig{ArchiveInterval: 5 * time.Millisecond})

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	require.Zero(t, atomic.LoadInt32(&sw.runs))
	require.Zero(t, atomic.LoadInt32(&ar.runs), "ArchiveAfter == 0 disables archival")
}
