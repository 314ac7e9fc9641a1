package sched_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-tinykernel/internal/kthread"
	"github.com/joeycumines/go-tinykernel/internal/sched"
)

func TestKernel_StartReturnsRunningMain(t *testing.T) {
	k := sched.New()
	main := k.Start("main", kthread.PriDefault)

	assert.Same(t, main, k.Current())
	assert.Equal(t, kthread.Running, main.Status())
}

func TestKernel_CreateSamePriorityDoesNotPreempt(t *testing.T) {
	k := sched.New()
	main := k.Start("main", kthread.PriDefault)

	worker, err := k.Create("worker", kthread.PriDefault, func(*kthread.Thread) {
		k.Exit()
	})
	require.NoError(t, err)

	assert.Same(t, main, k.Current())
	assert.Equal(t, kthread.Ready, worker.Status())
}

func TestKernel_CreateHigherPriorityPreemptsImmediately(t *testing.T) {
	k := sched.New()
	main := k.Start("main", kthread.PriDefault)

	var ran bool
	_, err := k.Create("urgent", kthread.PriDefault+10, func(*kthread.Thread) {
		ran = true
		k.Exit()
	})
	require.NoError(t, err)

	assert.True(t, ran, "a strictly higher priority thread must run before Create returns")
	assert.Same(t, main, k.Current())
}

func TestKernel_YieldDispatchesReadyThread(t *testing.T) {
	k := sched.New()
	main := k.Start("main", kthread.PriDefault)

	done := make(chan struct{})
	_, err := k.Create("worker", kthread.PriDefault, func(*kthread.Thread) {
		close(done)
		k.Exit()
	})
	require.NoError(t, err)

	select {
	case <-done:
		t.Fatal("equal-priority create must not dispatch before an explicit yield")
	default:
	}

	k.Yield()
	<-done
	assert.Same(t, main, k.Current())
}

func TestKernel_SleepWakesOnTick(t *testing.T) {
	k := sched.New()
	main := k.Start("main", kthread.PriDefault)

	woke := make(chan struct{})
	_, err := k.Create("sleeper", kthread.PriDefault, func(*kthread.Thread) {
		k.Sleep(3)
		close(woke)
		k.Exit()
	})
	require.NoError(t, err)

	k.Yield() // dispatch sleeper up to its Sleep(3) call, then back to main
	select {
	case <-woke:
		t.Fatal("sleeper woke before falling asleep")
	default:
	}

	k.Tick()
	k.Tick()
	select {
	case <-woke:
		t.Fatal("sleeper woke before its third tick")
	default:
	}

	k.Tick() // third tick: sleeper's wake tick is reached, moved to ready

	k.Yield() // dispatch the now-ready sleeper
	<-woke
	assert.Same(t, main, k.Current())
}

func TestKernel_QuantumExpiryYieldsAtNextCheckpoint(t *testing.T) {
	k := sched.New(sched.WithTimeSlice(2))
	main := k.Start("main", kthread.PriDefault)

	done := make(chan struct{})
	_, err := k.Create("worker", kthread.PriDefault, func(*kthread.Thread) {
		close(done)
		k.Exit()
	})
	require.NoError(t, err)

	k.Tick()
	k.Tick() // main's two-tick quantum is now spent

	select {
	case <-done:
		t.Fatal("a tick alone must not yield; only the next checkpoint does")
	default:
	}

	k.SetPriority(main, kthread.PriDefault) // touches a checkpoint, same priority
	<-done
	assert.Same(t, main, k.Current())
}

func TestKernel_SetPriorityBelowReadyHeadYields(t *testing.T) {
	k := sched.New()
	main := k.Start("main", kthread.PriDefault)

	var ran bool
	_, err := k.Create("higher", kthread.PriDefault, func(*kthread.Thread) {
		ran = true
		k.Exit()
	})
	require.NoError(t, err)
	require.False(t, ran)

	k.SetPriority(main, kthread.PriDefault-5)

	assert.True(t, ran, "lowering below the ready head must yield to it")
	assert.Same(t, main, k.Current())
	assert.Equal(t, kthread.PriDefault-5, main.BasePriority)
}

func TestKernel_TicksMonotonic(t *testing.T) {
	k := sched.New()
	k.Start("main", kthread.PriDefault)

	assert.Equal(t, int64(0), k.Ticks())
	k.Tick()
	k.Tick()
	assert.Equal(t, int64(2), k.Ticks())
}

func TestKernel_RealTimeSleepSubTickUsesBusyWait(t *testing.T) {
	k := sched.New()
	k.Start("main", kthread.PriDefault)
	k.SetLoopsPerTick(1000)

	var gotLoops int64 = -1
	k.RealTimeSleep(1, 1000, 10, func(loops int64) { gotLoops = loops })

	assert.Equal(t, int64(10), gotLoops, "sub-tick delays scale the calibrated loop count by the requested fraction")
}

func TestKernel_RealTimeSleepAtLeastOneTickSleepsUntilWoken(t *testing.T) {
	k := sched.New()
	main := k.Start("main", kthread.PriDefault)

	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		for i := 0; i < 5; i++ {
			k.Tick()
		}
	}()

	k.RealTimeSleep(1, 1, 1, nil) // one whole tick: resolves to Sleep(1), not a busy-wait

	<-tickerDone
	assert.Same(t, main, k.Current())
}
