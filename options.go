package arenago

import (
	"log/slog"

	"github.com/hupe1980/arenago/vmem"
)

type options struct {
	vm     vmem.Memory
	logger *slog.Logger
}

// Option configures the constructors of the virtual-memory-backed
// allocators.
type Option func(*options)

// WithMemory overrides the virtual memory implementation. Pass a stub
// to test commit/decommit behavior without touching the kernel, or a
// host-specific implementation where the default syscalls are
// unavailable.
//
// If nil is passed, vmem.Default() is used.
func WithMemory(vm vmem.Memory) Option {
	return func(o *options) {
		if vm == nil {
			vm = vmem.Default()
		}
		o.vm = vm
	}
}

// WithLogger configures a diagnostic logger. Only the paths that talk
// to the virtual memory layer log, at Debug level; failures are still
// reported to the caller through return values, never through the log.
//
// If nil is passed, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = discardLogger()
		}
		o.logger = logger
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func applyOptions(opts []Option) options {
	o := options{
		vm:     vmem.Default(),
		logger: discardLogger(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}
