package trace

import "time"

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalTicks         int
	TotalCommands      int
	FailedCommands     int
	MeanObjectsPerTick float64
	MaxObjectsPerTick  int
	MaxTickElapsed     time.Duration
	// LateCommands counts commands executed after their scheduled time.
	LateCommands     int
	RoleDistribution map[string]int // role name → object ticks across the trace
	CommandCounts    map[string]int // command name → executions
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		RoleDistribution: make(map[string]int),
		CommandCounts:    make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalTicks = len(st.Ticks)
	if len(st.Ticks) > 0 {
		totalObjects := 0
		for _, tr := range st.Ticks {
			perTick := 0
			for role, n := range tr.Ticked {
				summary.RoleDistribution[role] += n
				perTick += n
			}
			totalObjects += perTick
			if perTick > summary.MaxObjectsPerTick {
				summary.MaxObjectsPerTick = perTick
			}
			if tr.Elapsed > summary.MaxTickElapsed {
				summary.MaxTickElapsed = tr.Elapsed
			}
		}
		summary.MeanObjectsPerTick = float64(totalObjects) / float64(len(st.Ticks))
	}

	summary.TotalCommands = len(st.Commands)
	for _, c := range st.Commands {
		summary.CommandCounts[c.Name]++
		if c.Err != "" {
			summary.FailedCommands++
		}
		if c.ExecutedAt.After(c.ScheduledAt) {
			summary.LateCommands++
		}
	}

	return summary
}
