package kthread_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-tinykernel/internal/kthread"
)

func TestNewThread_ParksUntilFirstResume(t *testing.T) {
	started := make(chan struct{})
	entered := make(chan any, 1)

	th := kthread.New(1, "t1", kthread.PriDefault, func(arg any) {
		entered <- arg
	}, "hello", func() { close(started) })

	select {
	case <-started:
		t.Fatal("thread ran onStart before Resume")
	case <-time.After(20 * time.Millisecond):
	}

	th.Resume()
	th.AwaitStart()

	select {
	case v := <-entered:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("entry never ran after Resume")
	}
}

func TestThread_ResumeTwiceWithoutParkPanics(t *testing.T) {
	block := make(chan struct{})
	th := kthread.New(2, "t2", kthread.PriDefault, func(any) { <-block }, nil, nil)
	th.Resume()
	th.AwaitStart()

	assert.Panics(t, func() { th.Resume() })
	close(block)
}

func TestThread_DonateAndRefresh(t *testing.T) {
	base := &kthread.Thread{BasePriority: 10, Priority: 10}
	donorLow := &kthread.Thread{Priority: 15}
	donorHigh := &kthread.Thread{Priority: 40}

	base.Donate(donorLow.Priority)
	assert.Equal(t, 15, base.Priority)

	base.Donate(donorHigh.Priority)
	assert.Equal(t, 40, base.Priority)

	// A lower donation than current priority never lowers it.
	base.Donate(20)
	assert.Equal(t, 40, base.Priority)

	base.Donors = []*kthread.Thread{donorLow, donorHigh}
	base.Refresh()
	assert.Equal(t, 40, base.Priority)

	base.Donors = []*kthread.Thread{donorLow}
	base.Refresh()
	assert.Equal(t, 15, base.Priority)

	base.Donors = nil
	base.Refresh()
	assert.Equal(t, 10, base.Priority)
}

func TestThread_StatusAtomicAccess(t *testing.T) {
	th := &kthread.Thread{}
	th.SetStatus(kthread.Ready)
	require.Equal(t, kthread.Ready, th.Status())
	assert.Equal(t, "ready", th.Status().String())

	th.SetStatus(kthread.Blocked)
	assert.Equal(t, "blocked", th.Status().String())
}
