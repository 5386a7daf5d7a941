package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeEngine struct {
	sweeps   atomic.Int32
	cleanups atomic.Int32
	sweepErr error
}

func (f *fakeEngine) SweepExpiredSessions(context.Context) (int, error) {
	f.sweeps.Add(1)
	if f.sweepErr != nil {
		return 0, f.sweepErr
	}
	return 2, nil
}

func (f *fakeEngine) CleanupExpiredOTPs(context.Context) (int, error) {
	f.cleanups.Add(1)
	return 3, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunOnceRunsBothJobsEvenAfterFailure(t *testing.T) {
	eng := &fakeEngine{sweepErr: errors.New("redis down")}
	s := &sweeper{engine: eng, interval: time.Minute, logger: quietLogger()}

	expired, removed := s.runOnce(context.Background())
	assert.Equal(t, 0, expired)
	assert.Equal(t, 3, removed)
	assert.EqualValues(t, 1, eng.cleanups.Load())
}

func TestRunTicksUntilCancelled(t *testing.T) {
	eng := &fakeEngine{}
	s := &sweeper{engine: eng, interval: 5 * time.Millisecond, logger: quietLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return eng.sweeps.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
