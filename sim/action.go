package sim

import (
	"encoding/json"
	"fmt"
	"time"
)

// Actor is implemented by concrete actions.
//
// Evaluate runs every time the owning object simulates and decides whether the action
// should fire; Act runs on the action's own cadence, only when the latest evaluation
// said yes.
type Actor interface {
	Evaluate() (bool, error)
	Act() error
}

// ActionBase is embedded by action types.
type ActionBase struct {
	Dependent
	shouldAct bool
	lastActAt time.Time
}

func (a *ActionBase) action() *ActionBase { return a }

// InitAction registers an action acting at most once per interval.
func (a *ActionBase) InitAction(rt *Runtime, self Object, subtype string, interval time.Duration, firstTick bool) error {
	if err := a.initBase(rt, self, RoleAction, subtype); err != nil {
		return err
	}
	a.SetSimulationInterval(interval)
	a.SetSimulateOnFirstTick(firstTick)
	return nil
}

// ShouldAct reports the result of the most recent evaluation.
func (a *ActionBase) ShouldAct() bool { return a.shouldAct }

// SinceLastAct returns the simulated time since Act last ran and whether it ever ran.
func (a *ActionBase) SinceLastAct() (time.Duration, bool) {
	if a.lastActAt.IsZero() {
		return 0, false
	}
	return a.rt.Clock.Now().Sub(a.lastActAt), true
}

func (a *ActionBase) evaluate() error {
	actor, ok := a.self.(Actor)
	if !ok || a.paused {
		return nil
	}
	ok, err := actor.Evaluate()
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", a, err)
	}
	a.shouldAct = ok
	return nil
}

// Simulate acts when the last evaluation asked for it, then clears the request.
func (a *ActionBase) Simulate() error {
	if !a.shouldAct {
		return nil
	}
	a.shouldAct = false
	actor, ok := a.self.(Actor)
	if !ok {
		return nil
	}
	if err := actor.Act(); err != nil {
		return err
	}
	a.lastActAt = a.rt.Clock.Now()
	return nil
}

type actionKernelState struct {
	ShouldAct bool      `json:"should_act"`
	LastActAt time.Time `json:"last_act_at,omitzero"`
}

func (a *ActionBase) encodeKind() (json.RawMessage, error) {
	return json.Marshal(actionKernelState{ShouldAct: a.shouldAct, LastActAt: a.lastActAt})
}

func (a *ActionBase) decodeKind(raw json.RawMessage) error {
	var st actionKernelState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	a.shouldAct, a.lastActAt = st.ShouldAct, st.LastActAt
	return nil
}
