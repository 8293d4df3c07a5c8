// Package scheduler implements spec.md §4.4's two-tier deadline scheduler:
// an Idle Collector goroutine hosting parked Mixers, and a dynamic pool of
// Worker goroutines (each pinned to its own OS thread) ticking live Mixers
// on an absolute 20ms deadline. Grounded in
// original_source/src/driver/scheduler/{mod,idle,live,config,stats}.rs,
// translated from flume/tokio channels and atomics to Go channels and a
// single serializing dispatch goroutine.
package scheduler

import "time"

// Config controls how Mixers are mapped onto Worker goroutines.
type Config struct {
	// MaxPerThread caps how many live Mixers a single Worker may host
	// before the Scheduler spins up another (spec.md §4.4, default 16).
	MaxPerThread int

	// MoveExpensiveTasks enables overrun-driven eviction of the costliest
	// Mixer back to Idle when a Worker's tick exceeds SoftBudget.
	MoveExpensiveTasks bool

	// SoftBudget is the wall-clock budget for the "work" half of a
	// Worker's tick (spec.md §4.4, default 18ms).
	SoftBudget time.Duration

	// TickInterval is the wall-clock period of both the Idle Collector's
	// and every Worker's tick loop (default 20ms).
	TickInterval time.Duration

	// WorkerIdleTimeout is how long a Worker with zero hosted Mixers
	// survives before its goroutine exits, mirroring the reference's
	// THREAD_CULL_TIMER (default 60s).
	WorkerIdleTimeout time.Duration
}

// DefaultConfig returns spec.md §4.4's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxPerThread:       16,
		MoveExpensiveTasks: true,
		SoftBudget:         18 * time.Millisecond,
		TickInterval:       20 * time.Millisecond,
		WorkerIdleTimeout:  60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxPerThread <= 0 {
		c.MaxPerThread = 16
	}
	if c.SoftBudget <= 0 {
		c.SoftBudget = 18 * time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 20 * time.Millisecond
	}
	if c.WorkerIdleTimeout <= 0 {
		c.WorkerIdleTimeout = 60 * time.Second
	}
	return c
}
