package intr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-tinykernel/internal/intr"
)

func TestGate_DisableEnable(t *testing.T) {
	g := intr.New()

	prev := g.Disable()
	assert.Equal(t, intr.On, prev)

	g.AssertDisabled()

	g.Enable()
}

func TestGate_SetLevelOffStaysHeld(t *testing.T) {
	g := intr.New()

	prev := g.Disable()
	require.Equal(t, intr.On, prev)

	// Simulate a nested disable/restore pair that observed "already off":
	// SetLevel(Off) must not release the gate.
	g.SetLevel(intr.Off)
	g.AssertDisabled()

	// The outer caller's restore releases it.
	g.SetLevel(prev)
}

func TestGate_DisableBlocksConcurrentHolder(t *testing.T) {
	g := intr.New()
	g.Disable()

	done := make(chan struct{})
	go func() {
		g.Disable()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Disable should not succeed while gate is held")
	default:
	}

	g.Enable()
	<-done
}
