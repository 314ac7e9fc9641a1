package devices_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joeycumines/go-tinykernel/internal/devices"
)

func TestCalibrateBusyWait_FindsPositiveLoopCount(t *testing.T) {
	// A spin function that takes roughly 1µs per loop, calibrated against a
	// generous 10ms tick, exercises both the doubling and refining phases
	// without the test itself taking long.
	spin := func(loops int64) {
		time.Sleep(time.Duration(loops) * time.Microsecond)
	}

	loops := devices.CalibrateBusyWait(10*time.Millisecond, spin)

	assert.Greater(t, loops, int64(0))
	// too_many_loops(loops<<1) must be true: doubling once more overruns the
	// tick, which is the search's own termination condition.
	start := time.Now()
	spin(loops << 1)
	assert.Greater(t, time.Since(start), 10*time.Millisecond)
}

func TestBusyLoop_CompletesAndConsumesTime(t *testing.T) {
	start := time.Now()
	devices.BusyLoop(1_000_000)
	assert.Greater(t, time.Since(start), time.Duration(0))
}
