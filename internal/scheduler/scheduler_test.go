package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/ukydev/fleet-haulage/internal/audit"
	"github.com/ukydev/fleet-haulage/internal/clock"
)

func TestScheduler_RunsTasksOnTheirIntervals(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	logger, _ := test.NewNullLogger()

	var fast, slow atomic.Int32
	var actor atomic.Value
	s := New(clk, logger,
		Task{Name: "fast", Interval: time.Minute, Run: func(ctx context.Context) error {
			actor.Store(audit.ActorFrom(ctx))
			fast.Add(1)
			return nil
		}},
		Task{Name: "slow", Interval: 5 * time.Minute, Run: func(ctx context.Context) error {
			slow.Add(1)
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	clk.WaitForTickers(2)

	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		want := int32(i + 1)
		assert.Eventually(t, func() bool { return fast.Load() == want }, time.Second, time.Millisecond)
	}
	assert.Eventually(t, func() bool { return slow.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, audit.SystemActor, actor.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, clk.ActiveTickers())
}

func TestScheduler_ToleratesOverlappingRuns(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	logger, _ := test.NewNullLogger()

	release := make(chan struct{})
	var started atomic.Int32
	s := New(clk, logger, Task{Name: "blocking", Interval: time.Minute, Run: func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	clk.WaitForTickers(1)

	clk.Advance(time.Minute)
	assert.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	clk.Advance(time.Minute)
	assert.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned before in-flight runs finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_SurvivesFailingTask(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	logger, hook := test.NewNullLogger()

	var runs atomic.Int32
	s := New(clk, logger, Task{Name: "panics", Interval: time.Minute, Run: func(ctx context.Context) error {
		runs.Add(1)
		panic("boom")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	clk.WaitForTickers(1)
	clk.Advance(time.Minute)
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	clk.Advance(time.Minute)
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.NotEmpty(t, hook.AllEntries())
}
