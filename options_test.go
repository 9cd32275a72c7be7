package arenago

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/arenago/vmem"
)

func TestOptions_Defaults(t *testing.T) {
	o := applyOptions(nil)
	assert.NotNil(t, o.vm)
	assert.NotNil(t, o.logger)

	// nil arguments fall back to the defaults.
	o = applyOptions([]Option{WithMemory(nil), WithLogger(nil)})
	assert.NotNil(t, o.vm)
	assert.NotNil(t, o.logger)
}

func TestOptions_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pageSize := vmem.Default().PageSize()

	a, err := NewVMemLinear(4*pageSize, WithLogger(logger))
	require.NoError(t, err)

	require.NotNil(t, a.Allocate(8, 1))
	require.NoError(t, a.Release())

	out := buf.String()
	assert.Contains(t, out, "reserved address space")
	assert.Contains(t, out, "committed pages")
	assert.Contains(t, out, "released address space")
}

func TestOptions_WithMemory(t *testing.T) {
	vm := newStubMemory()

	a, err := NewVMemLinear(4*vm.PageSize(), WithMemory(vm))
	require.NoError(t, err)

	require.NotNil(t, a.Allocate(8, 1))
	assert.Equal(t, 1, vm.commits)
	require.NoError(t, a.Release())
}
