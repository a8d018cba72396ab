package sim

import (
	"encoding/json"
	"time"
)

// Applier is implemented by active effects and by events.
type Applier interface {
	Apply() error
}

// ApplyGate optionally lets an active effect skip an application.
type ApplyGate interface {
	ShouldApply() bool
}

// EffectBase is embedded by effect types.
//
// An effect with an Apply method is active: it applies on its cadence and, when a
// duration is set, destroys itself once the duration has elapsed after Start. An
// effect without Apply is passive: other objects consult CanApply and it does nothing
// on tick.
type EffectBase struct {
	Dependent
	duration    time.Duration
	endTime     time.Time
	windowStart time.Time
	windowEnd   time.Time
}

// InitEffect registers an effect. Effects apply on their first tick.
func (e *EffectBase) InitEffect(rt *Runtime, self Object, subtype string, interval time.Duration) error {
	if err := e.initBase(rt, self, RoleEffect, subtype); err != nil {
		return err
	}
	e.SetSimulationInterval(interval)
	e.SetSimulateOnFirstTick(true)
	return nil
}

// SetDuration bounds an active effect's lifetime. Zero means unbounded.
func (e *EffectBase) SetDuration(d time.Duration) { e.duration = d }

func (e *EffectBase) Duration() time.Duration { return e.duration }

// EndTime returns when the effect expires; zero when unbounded or not started.
func (e *EffectBase) EndTime() time.Time { return e.endTime }

// SetWindow restricts a passive effect to (start, end). A zero end is open-ended.
func (e *EffectBase) SetWindow(start, end time.Time) {
	e.windowStart, e.windowEnd = start, end
}

// CanApply reports whether the current time falls inside the effect's window.
func (e *EffectBase) CanApply() bool {
	now := e.Now()
	if !e.windowStart.IsZero() && !now.After(e.windowStart) {
		return false
	}
	return e.windowEnd.IsZero() || now.Before(e.windowEnd)
}

// Expired reports whether a bounded effect has outlived its duration.
func (e *EffectBase) Expired() bool {
	return !e.endTime.IsZero() && e.Now().After(e.endTime)
}

func (e *EffectBase) kernelStart() error {
	if e.duration > 0 {
		e.endTime = e.rt.Clock.Now().Add(e.duration)
	}
	return nil
}

func (e *EffectBase) Simulate() error {
	if e.Expired() {
		e.Destroy()
		return nil
	}
	a, ok := e.self.(Applier)
	if !ok {
		return nil
	}
	if g, ok := e.self.(ApplyGate); ok && !g.ShouldApply() {
		return nil
	}
	return a.Apply()
}

type effectKernelState struct {
	Duration    time.Duration `json:"duration,omitempty"`
	EndTime     time.Time     `json:"end_time,omitzero"`
	WindowStart time.Time     `json:"window_start,omitzero"`
	WindowEnd   time.Time     `json:"window_end,omitzero"`
}

func (e *EffectBase) encodeKind() (json.RawMessage, error) {
	return json.Marshal(effectKernelState{
		Duration:    e.duration,
		EndTime:     e.endTime,
		WindowStart: e.windowStart,
		WindowEnd:   e.windowEnd,
	})
}

func (e *EffectBase) decodeKind(raw json.RawMessage) error {
	var st effectKernelState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	e.duration, e.endTime, e.windowStart, e.windowEnd = st.Duration, st.EndTime, st.WindowStart, st.WindowEnd
	return nil
}
