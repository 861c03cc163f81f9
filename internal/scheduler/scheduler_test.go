package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// everySchedule fires at a fixed sub-second interval, which cron descriptors
// cannot express.
type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

type fakeProcessor struct {
	calls   atomic.Int64
	n       int
	err     error
	release chan struct{}
	entered chan struct{}
}

func (p *fakeProcessor) ProcessScheduledSteps(ctx context.Context) (int, error) {
	p.calls.Add(1)
	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return p.n, p.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"", "@every 1m", "@hourly", "*/5 * * * *", "0 9 * * MON-FRI"} {
		_, err := ParseSchedule(spec)
		assert.NoError(t, err, spec)
	}
	_, err := ParseSchedule("every minute")
	assert.Error(t, err)
	_, err = New(&fakeProcessor{}, "61 * * * *", quietLogger())
	assert.Error(t, err)
}

func TestParseSchedule_DefaultIsEveryMinute(t *testing.T) {
	sched, err := ParseSchedule("")
	require.NoError(t, err)
	from := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(time.Minute), sched.Next(from))
}

func TestScheduler_RunsImmediatelyAndRepeats(t *testing.T) {
	p := &fakeProcessor{n: 2}
	s := NewWithSchedule(p, everySchedule(10*time.Millisecond), quietLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return p.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.Passes, int64(3))
	assert.Equal(t, 2, stats.LastProcessed)
	assert.Equal(t, stats.Passes*2, stats.Processed)
	assert.False(t, stats.LastRunAt.IsZero())
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewWithSchedule(&fakeProcessor{}, everySchedule(time.Hour), quietLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_StopIdempotent(t *testing.T) {
	s := NewWithSchedule(&fakeProcessor{}, everySchedule(time.Hour), quietLogger())
	assert.NoError(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())

	// A stopped scheduler can be started again.
	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop())
}

func TestScheduler_NoOverlap(t *testing.T) {
	p := &fakeProcessor{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewWithSchedule(p, everySchedule(time.Hour), quietLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.RunPass(context.Background())
		assert.NoError(t, err)
	}()
	<-p.entered

	_, err := s.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(p.release)
	wg.Wait()

	assert.Equal(t, int64(1), p.calls.Load())
	assert.Equal(t, int64(1), s.Stats().Overlaps)

	_, err = s.RunPass(context.Background())
	assert.NoError(t, err)
}

func TestScheduler_RecordsErrors(t *testing.T) {
	p := &fakeProcessor{err: errors.New("store unavailable")}
	s := NewWithSchedule(p, everySchedule(time.Hour), quietLogger())

	_, err := s.RunPass(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "store unavailable", s.Stats().LastError)

	p.err = nil
	_, err = s.RunPass(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, s.Stats().LastError)
}

func TestScheduler_StopCancelsInflightPass(t *testing.T) {
	p := &fakeProcessor{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewWithSchedule(p, everySchedule(time.Hour), quietLogger())

	require.NoError(t, s.Start(context.Background()))
	<-p.entered

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}
