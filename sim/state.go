package sim

import "time"

// Updater marks an active state: Update runs on the state's cadence.
type Updater interface {
	Update() error
}

// UpdateGate optionally lets an active state skip an update.
type UpdateGate interface {
	ShouldUpdate() bool
}

// StateBase is embedded by state types. A state without an Update method is
// passive: it holds data other objects read and write, and its Simulate does nothing.
type StateBase struct {
	Dependent
}

// InitState registers a state. The interval only matters for active states.
func (s *StateBase) InitState(rt *Runtime, self Object, subtype string, interval time.Duration) error {
	if err := s.initBase(rt, self, RoleState, subtype); err != nil {
		return err
	}
	s.SetSimulationInterval(interval)
	return nil
}

// Active reports whether the state updates itself.
func (s *StateBase) Active() bool {
	_, ok := s.self.(Updater)
	return ok
}

func (s *StateBase) Simulate() error {
	u, ok := s.self.(Updater)
	if !ok {
		return nil
	}
	if g, ok := s.self.(UpdateGate); ok && !g.ShouldUpdate() {
		return nil
	}
	return u.Update()
}
