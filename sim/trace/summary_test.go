package trace

import (
	"testing"
	"time"
)

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelTicks})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.TotalTicks != 0 || summary.TotalCommands != 0 {
		t.Errorf("expected zero totals, got %d ticks %d commands", summary.TotalTicks, summary.TotalCommands)
	}
	if summary.MeanObjectsPerTick != 0 || summary.MaxObjectsPerTick != 0 {
		t.Error("expected zero object statistics")
	}
	if len(summary.RoleDistribution) != 0 {
		t.Error("expected empty role distribution")
	}
}

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.TotalTicks != 0 {
		t.Errorf("expected 0, got %d", summary.TotalTicks)
	}
	if summary.RoleDistribution == nil || summary.CommandCounts == nil {
		t.Error("maps must be non-nil")
	}
}

func TestSummarize_TicksAndCommands(t *testing.T) {
	// GIVEN two ticks and two commands, one failed and one late
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelTicks})
	st.RecordTick(TickRecord{Tick: 1, Ticked: map[string]int{"agent": 2, "action": 2}, Elapsed: time.Millisecond})
	st.RecordTick(TickRecord{Tick: 2, Ticked: map[string]int{"agent": 2}, Elapsed: 3 * time.Millisecond})
	st.RecordCommand(CommandRecord{Name: "Pause", ScheduledAt: base, ExecutedAt: base})
	st.RecordCommand(CommandRecord{Name: "Stop", ScheduledAt: base, ExecutedAt: base.Add(time.Hour), Err: "boom"})

	// WHEN summarized
	summary := Summarize(st)

	// THEN aggregates reflect both ticks and both commands
	if summary.TotalTicks != 2 {
		t.Errorf("TotalTicks = %d, want 2", summary.TotalTicks)
	}
	if summary.MeanObjectsPerTick != 3 {
		t.Errorf("MeanObjectsPerTick = %v, want 3", summary.MeanObjectsPerTick)
	}
	if summary.MaxObjectsPerTick != 4 {
		t.Errorf("MaxObjectsPerTick = %d, want 4", summary.MaxObjectsPerTick)
	}
	if summary.MaxTickElapsed != 3*time.Millisecond {
		t.Errorf("MaxTickElapsed = %v", summary.MaxTickElapsed)
	}
	if summary.RoleDistribution["agent"] != 4 || summary.RoleDistribution["action"] != 2 {
		t.Errorf("unexpected role distribution %v", summary.RoleDistribution)
	}
	if summary.FailedCommands != 1 || summary.LateCommands != 1 {
		t.Errorf("failed=%d late=%d, want 1/1", summary.FailedCommands, summary.LateCommands)
	}
	if summary.CommandCounts["Pause"] != 1 || summary.CommandCounts["Stop"] != 1 {
		t.Errorf("unexpected command counts %v", summary.CommandCounts)
	}
}
