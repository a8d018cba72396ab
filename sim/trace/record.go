// Package trace provides tick and command recording for run analysis.
// This package has no dependencies on sim/: it stores pure data types.
package trace

import "time"

// TickRecord captures one advanced tick.
type TickRecord struct {
	Tick    int64
	SimTime time.Time
	// Ticked counts objects visited per role name during the pass.
	Ticked  map[string]int
	Elapsed time.Duration // wall-clock time spent in the pass
}

// CommandRecord captures a single executed scheduled command.
type CommandRecord struct {
	Name        string
	ScheduledAt time.Time
	ExecutedAt  time.Time
	Tick        int64
	Err         string // empty on success
}
