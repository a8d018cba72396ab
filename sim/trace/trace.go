package trace

// TraceLevel controls the verbosity of tick tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelCommands captures executed scheduled commands only.
	TraceLevelCommands TraceLevel = "commands"
	// TraceLevelTicks captures commands and one record per advanced tick.
	TraceLevelTicks TraceLevel = "ticks"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelCommands: true,
	TraceLevelTicks:    true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	// MaxTicks caps the number of retained tick records; older ones are dropped.
	// Zero keeps everything.
	MaxTicks int
}

// SimulationTrace collects tick and command records during a run.
type SimulationTrace struct {
	Config   TraceConfig
	Ticks    []TickRecord
	Commands []CommandRecord
	// DroppedTicks counts tick records discarded because of MaxTicks.
	DroppedTicks int
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		Ticks:    make([]TickRecord, 0),
		Commands: make([]CommandRecord, 0),
	}
}

// WantsTicks reports whether tick records are collected at this level.
func (st *SimulationTrace) WantsTicks() bool {
	return st != nil && st.Config.Level == TraceLevelTicks
}

// WantsCommands reports whether command records are collected at this level.
func (st *SimulationTrace) WantsCommands() bool {
	return st != nil && (st.Config.Level == TraceLevelTicks || st.Config.Level == TraceLevelCommands)
}

// RecordTick appends a tick record.
func (st *SimulationTrace) RecordTick(record TickRecord) {
	st.Ticks = append(st.Ticks, record)
	if st.Config.MaxTicks > 0 && len(st.Ticks) > st.Config.MaxTicks {
		drop := len(st.Ticks) - st.Config.MaxTicks
		st.Ticks = append(st.Ticks[:0:0], st.Ticks[drop:]...)
		st.DroppedTicks += drop
	}
}

// RecordCommand appends an executed command record.
func (st *SimulationTrace) RecordCommand(record CommandRecord) {
	st.Commands = append(st.Commands, record)
}
