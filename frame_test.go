package arenago

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_ZeroValue(t *testing.T) {
	var frame Frame

	assert.False(t, frame.CanPop())
	assert.False(t, frame.Pop())
	assert.False(t, frame.Pop())
}

func TestFrame_PopIdempotent(t *testing.T) {
	a, err := NewStackFrame(1024)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Release()) }()

	frame, err := a.PushFrame()
	require.NoError(t, err)

	assert.True(t, frame.CanPop())
	assert.True(t, frame.Pop())
	assert.False(t, frame.CanPop())

	// The second pop is a no-op even with another frame live.
	frame2, err := a.PushFrame()
	require.NoError(t, err)

	assert.False(t, frame.Pop())
	assert.True(t, a.HasLiveFrame())

	require.True(t, frame2.Pop())
}

func TestFrame_SurvivesFailedPop(t *testing.T) {
	a, err := NewVMemStackFrame(4 * vmemPageSize(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Release()) }()

	outer, err := a.PushFrame()
	require.NoError(t, err)

	inner, err := a.PushFrame()
	require.NoError(t, err)

	// The failed out-of-order pop leaves the handle armed, so the
	// correct order still works afterwards.
	require.False(t, outer.Pop())
	require.True(t, outer.CanPop())

	require.True(t, inner.Pop())
	require.True(t, outer.Pop())
	assert.False(t, a.HasLiveFrame())
}
