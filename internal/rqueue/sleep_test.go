package rqueue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-tinykernel/internal/rqueue"
)

type sleeper struct {
	name string
	wake int64
}

func TestSleep_WakeOrderAndBoundary(t *testing.T) {
	q := rqueue.NewSleep(func(s sleeper) int64 { return s.wake })
	q.Insert(sleeper{"ten", 10})
	q.Insert(sleeper{"twenty", 20})
	q.Insert(sleeper{"thirty", 30})

	require.Equal(t, 3, q.Len())

	due := q.Wake(9)
	assert.Empty(t, due)

	due = q.Wake(10)
	require.Len(t, due, 1)
	assert.Equal(t, "ten", due[0].name)
	assert.Equal(t, 2, q.Len())

	due = q.Wake(25)
	require.Len(t, due, 1)
	assert.Equal(t, "twenty", due[0].name)

	due = q.Wake(30)
	require.Len(t, due, 1)
	assert.Equal(t, "thirty", due[0].name)
	assert.Equal(t, 0, q.Len())
}
