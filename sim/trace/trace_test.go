package trace

import (
	"testing"
	"time"
)

func TestSimulationTrace_RecordTick_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for ticks
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelTicks})

	// WHEN a tick record is recorded
	st.RecordTick(TickRecord{
		Tick:    1,
		SimTime: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
		Ticked:  map[string]int{"agent": 3},
	})

	// THEN the trace contains one tick record with correct data
	if len(st.Ticks) != 1 {
		t.Fatalf("expected 1 tick, got %d", len(st.Ticks))
	}
	if st.Ticks[0].Ticked["agent"] != 3 {
		t.Errorf("expected 3 agents ticked, got %d", st.Ticks[0].Ticked["agent"])
	}
}

func TestSimulationTrace_RecordCommand_AppendsRecord(t *testing.T) {
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelCommands})

	st.RecordCommand(CommandRecord{Name: "Pause", Tick: 4})

	if len(st.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(st.Commands))
	}
	if st.Commands[0].Name != "Pause" {
		t.Errorf("expected Pause, got %s", st.Commands[0].Name)
	}
}

func TestSimulationTrace_MaxTicks_DropsOldest(t *testing.T) {
	// GIVEN a trace retaining at most 2 ticks
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelTicks, MaxTicks: 2})

	// WHEN three ticks are recorded
	for i := int64(1); i <= 3; i++ {
		st.RecordTick(TickRecord{Tick: i})
	}

	// THEN the oldest one is gone and accounted for
	if len(st.Ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(st.Ticks))
	}
	if st.Ticks[0].Tick != 2 || st.Ticks[1].Tick != 3 {
		t.Errorf("unexpected retained ticks %d,%d", st.Ticks[0].Tick, st.Ticks[1].Tick)
	}
	if st.DroppedTicks != 1 {
		t.Errorf("expected 1 dropped tick, got %d", st.DroppedTicks)
	}
}

func TestSimulationTrace_LevelGates(t *testing.T) {
	var nilTrace *SimulationTrace
	if nilTrace.WantsTicks() || nilTrace.WantsCommands() {
		t.Error("nil trace must not want anything")
	}
	cmds := NewSimulationTrace(TraceConfig{Level: TraceLevelCommands})
	if cmds.WantsTicks() || !cmds.WantsCommands() {
		t.Error("commands level should record commands only")
	}
	ticks := NewSimulationTrace(TraceConfig{Level: TraceLevelTicks})
	if !ticks.WantsTicks() || !ticks.WantsCommands() {
		t.Error("ticks level should record both")
	}
}

func TestIsValidTraceLevel_ValidLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"none", true},
		{"commands", true},
		{"ticks", true},
		{"", true}, // empty defaults to none
		{"decisions", false},
		{"TICKS", false}, // case-sensitive
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := IsValidTraceLevel(tt.level); got != tt.valid {
				t.Errorf("IsValidTraceLevel(%q) = %v, want %v", tt.level, got, tt.valid)
			}
		})
	}
}
