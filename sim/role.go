package sim

import "fmt"

// Role partitions simulated objects into the seven kernel categories.
// The numeric order of the constants is the per-tick processing order.
type Role int

const (
	RoleEnvironment Role = iota
	RoleEvent
	RoleEffect
	RoleAgent
	RoleAction
	RoleState
	RoleMetric

	roleCount = int(RoleMetric) + 1
)

// TickOrder is the order in which the orchestrator visits role buckets each tick.
var TickOrder = [...]Role{
	RoleEnvironment,
	RoleEvent,
	RoleEffect,
	RoleAgent,
	RoleAction,
	RoleState,
	RoleMetric,
}

// rehydrationOrder lists the roles whose top-level members are rehydrated after a
// snapshot load. Dependents are handled by their owners.
var rehydrationOrder = [...]Role{
	RoleEnvironment,
	RoleEvent,
	RoleAgent,
	RoleMetric,
}

var roleNames = [...]string{
	RoleEnvironment: "environment",
	RoleEvent:       "event",
	RoleEffect:      "effect",
	RoleAgent:       "agent",
	RoleAction:      "action",
	RoleState:       "state",
	RoleMetric:      "metric",
}

func (r Role) String() string {
	if r < 0 || int(r) >= roleCount {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// Valid reports whether r is one of the seven kernel roles.
func (r Role) Valid() bool {
	return r >= 0 && int(r) < roleCount
}

// Independent reports whether objects of this role may own dependents.
func (r Role) Independent() bool {
	return r == RoleAgent || r == RoleEnvironment
}

// Dependent reports whether objects of this role are owned by a subject.
func (r Role) Dependent() bool {
	return r == RoleState || r == RoleAction || r == RoleEffect
}

// ParseRole converts a role name back to its Role.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText encodes the role by name so snapshots stay readable.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
