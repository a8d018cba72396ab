package sim

import (
	"encoding/json"
	"time"
)

// StartGate optionally delays an event beyond its start time.
type StartGate interface {
	ShouldStart() bool
}

// EventBase is embedded by event types. An event is checked every tick; once its
// start time has been reached (and ShouldStart, if present, agrees) it applies once
// and destroys itself.
type EventBase struct {
	Base
	startTime time.Time
}

// InitEvent registers an event that fires at or after start.
func (e *EventBase) InitEvent(rt *Runtime, self Object, subtype string, start time.Time) error {
	if err := e.initBase(rt, self, RoleEvent, subtype); err != nil {
		return err
	}
	e.startTime = start
	e.SetSimulateOnFirstTick(true)
	return nil
}

func (e *EventBase) StartTime() time.Time { return e.startTime }

func (e *EventBase) Validate() error { return nil }

func (e *EventBase) Simulate() error {
	if e.Now().Before(e.startTime) {
		return nil
	}
	if g, ok := e.self.(StartGate); ok && !g.ShouldStart() {
		return nil
	}
	if a, ok := e.self.(Applier); ok {
		if err := a.Apply(); err != nil {
			return err
		}
	}
	e.Destroy()
	return nil
}

type eventKernelState struct {
	StartTime time.Time `json:"start_time"`
}

func (e *EventBase) encodeKind() (json.RawMessage, error) {
	return json.Marshal(eventKernelState{StartTime: e.startTime})
}

func (e *EventBase) decodeKind(raw json.RawMessage) error {
	var st eventKernelState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	e.startTime = st.StartTime
	return nil
}
