package sim

import (
	"fmt"
	"sort"
	"time"

	"github.com/inference-sim/simkernel/sim/bus"
)

// Requirer is implemented by independent objects that cannot start without certain
// owned sub-objects.
type Requirer interface {
	RequiredObjects() []string
}

// Independent is the shared core of agents and environments: it owns at most one
// state, action and effect per subtype, and keeps named, ordered associations to
// other objects it does not own.
type Independent struct {
	Base

	owned      [roleCount][]Object
	assocNames []string
	assoc      map[string][]Object
	// cancels the dissociate-on-destroy cleanup registered on each member
	assocCancel map[string]map[string]func()

	// references waiting for Rehydrate after a snapshot load
	pendingAssoc []AssociationRecord
}

func (in *Independent) independent() *Independent { return in }

type owner interface {
	Object
	independent() *Independent
}

// Own attaches a dependent object to this one and starts it. The dependent is
// paused while its owner is paused.
func (in *Independent) Own(obj Object) error {
	d, ok := obj.(dependentObject)
	if !ok || !obj.Role().Dependent() {
		return fmt.Errorf("own %s: %s objects cannot be owned", obj.base(), obj.Role())
	}
	if obj.Destroyed() {
		return fmt.Errorf("own %s: %w", obj.base(), ErrDestroyed)
	}
	if err := in.adopt(obj); err != nil {
		return err
	}
	d.dependent().subject = in.self
	if obj.Started() {
		if in.paused {
			return obj.Pause()
		}
		return obj.Unpause()
	}
	if err := obj.Start(); err != nil {
		in.Disown(obj)
		return err
	}
	return nil
}

func (in *Independent) adopt(obj Object) error {
	role := obj.Role()
	for _, existing := range in.owned[role] {
		if existing.Subtype() == obj.Subtype() {
			return fmt.Errorf("own %s on %s: %w", obj.base(), in, ErrDuplicateSubtype)
		}
	}
	in.owned[role] = append(in.owned[role], obj)
	return nil
}

// Disown removes obj from the owned set without destroying it. It reports whether
// obj was owned.
func (in *Independent) Disown(obj Object) bool {
	role := obj.Role()
	if !role.Valid() {
		return false
	}
	list := in.owned[role]
	for i, o := range list {
		if o == obj {
			in.owned[role] = append(list[:i:i], list[i+1:]...)
			if d, ok := obj.(dependentObject); ok && d.dependent().subject == in.self {
				d.dependent().subject = nil
			}
			return true
		}
	}
	return false
}

// Owned returns the owned objects of one role in attachment order.
func (in *Independent) Owned(role Role) []Object {
	if !role.Valid() {
		return nil
	}
	return append([]Object(nil), in.owned[role]...)
}

// AllOwned returns every owned object: effects, then actions, then states.
func (in *Independent) AllOwned() []Object {
	var out []Object
	for _, role := range [...]Role{RoleEffect, RoleAction, RoleState} {
		out = append(out, in.owned[role]...)
	}
	return out
}

func (in *Independent) ownedBySubtype(role Role, subtype string) Object {
	for _, o := range in.owned[role] {
		if o.Subtype() == subtype {
			return o
		}
	}
	return nil
}

// State returns the owned state of the given subtype, or nil.
func (in *Independent) State(subtype string) Object {
	return in.ownedBySubtype(RoleState, subtype)
}

// Action returns the owned action of the given subtype, or nil.
func (in *Independent) Action(subtype string) Object {
	return in.ownedBySubtype(RoleAction, subtype)
}

// Effect returns the owned effect of the given subtype, or nil.
func (in *Independent) Effect(subtype string) Object {
	return in.ownedBySubtype(RoleEffect, subtype)
}

// Has reports whether an owned object of the given subtype exists in any role.
func (in *Independent) Has(subtype string) bool {
	for _, role := range [...]Role{RoleEffect, RoleAction, RoleState} {
		if in.ownedBySubtype(role, subtype) != nil {
			return true
		}
	}
	return false
}

// Associate adds obj under the named relation. Adding a member twice is a no-op.
// The member is dropped from the relation automatically when it is destroyed.
func (in *Independent) Associate(name string, obj Object) error {
	if obj.Destroyed() {
		return fmt.Errorf("associate %s with %s: %w", obj.base(), in, ErrDestroyed)
	}
	if in.assoc == nil {
		in.assoc = make(map[string][]Object)
		in.assocCancel = make(map[string]map[string]func())
	}
	members, exists := in.assoc[name]
	if !exists {
		in.assocNames = append(in.assocNames, name)
	}
	for _, m := range members {
		if m == obj {
			return nil
		}
	}
	in.assoc[name] = append(members, obj)
	if in.assocCancel[name] == nil {
		in.assocCancel[name] = make(map[string]func())
	}
	in.assocCancel[name][obj.ID()] = obj.base().AddCleanup(func() error {
		in.dissociate(name, obj, false)
		return nil
	})
	return nil
}

// Dissociate removes obj from the named relation and reports whether it was there.
func (in *Independent) Dissociate(name string, obj Object) bool {
	return in.dissociate(name, obj, true)
}

func (in *Independent) dissociate(name string, obj Object, cancelCleanup bool) bool {
	members := in.assoc[name]
	for i, m := range members {
		if m != obj {
			continue
		}
		in.assoc[name] = append(members[:i:i], members[i+1:]...)
		if cancel, ok := in.assocCancel[name][obj.ID()]; ok {
			if cancelCleanup {
				cancel()
			}
			delete(in.assocCancel[name], obj.ID())
		}
		return true
	}
	return false
}

// Associated returns the members of the named relation in insertion order.
func (in *Independent) Associated(name string) []Object {
	return append([]Object(nil), in.assoc[name]...)
}

// AssociationNames returns relation names in the order they were first used.
func (in *Independent) AssociationNames() []string {
	return append([]string(nil), in.assocNames...)
}

// Validate fails when a required sub-object is missing.
func (in *Independent) Validate() error {
	r, ok := in.self.(Requirer)
	if !ok {
		return nil
	}
	var missing []string
	for _, subtype := range r.RequiredObjects() {
		if !in.Has(subtype) {
			missing = append(missing, subtype)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s needs %v: %w", in, missing, ErrMissingRequired)
	}
	return nil
}

// Simulate asks every owned action whether it should act on its next turn.
// Types overriding Simulate should call Independent.Simulate to keep that protocol.
func (in *Independent) Simulate() error {
	for _, a := range in.owned[RoleAction] {
		ab, ok := a.(interface{ action() *ActionBase })
		if !ok {
			continue
		}
		if err := ab.action().evaluate(); err != nil {
			return err
		}
	}
	return nil
}

func (in *Independent) kernelPause() error {
	for _, o := range in.AllOwned() {
		if err := o.Pause(); err != nil {
			return err
		}
	}
	return nil
}

func (in *Independent) kernelUnpause() error {
	for _, o := range in.AllOwned() {
		if !o.Started() {
			continue
		}
		if err := o.Unpause(); err != nil {
			return err
		}
	}
	return nil
}

func (in *Independent) kernelDestroy() {
	for _, o := range in.AllOwned() {
		o.Destroy()
	}
	for _, name := range in.assocNames {
		for _, m := range in.assoc[name] {
			if cancel, ok := in.assocCancel[name][m.ID()]; ok {
				cancel()
			}
		}
	}
	in.assoc = nil
	in.assocCancel = nil
	in.assocNames = nil
}

// reattachOwned re-registers owned objects restored from a snapshot.
func (in *Independent) reattachOwned() error {
	for _, o := range in.AllOwned() {
		o.(dependentObject).dependent().subject = in.self
		if err := in.rt.Bus.Publish(bus.TopicObjectCreated, o); err != nil {
			return fmt.Errorf("re-register %s: %w", o.base(), err)
		}
	}
	return nil
}

// kernelRehydrate resolves association references and runs the Rehydrate hooks of
// owned objects.
func (in *Independent) kernelRehydrate(r Resolver) error {
	pending := in.pendingAssoc
	in.pendingAssoc = nil
	for _, rec := range pending {
		for _, ref := range rec.Members {
			obj, err := r.Resolve(ref)
			if err != nil {
				return fmt.Errorf("%s association %q: %w", in, rec.Name, err)
			}
			if err := in.Associate(rec.Name, obj); err != nil {
				return err
			}
		}
	}
	for _, o := range in.AllOwned() {
		if h, ok := o.(Rehydrater); ok {
			if err := h.Rehydrate(r); err != nil {
				return fmt.Errorf("rehydrate %s: %w", o.base(), err)
			}
		}
	}
	return nil
}

// AgentBase is embedded by agent types.
type AgentBase struct {
	Independent
}

// InitAgent registers an agent. Agents simulate every tick unless configured otherwise.
func (a *AgentBase) InitAgent(rt *Runtime, self Object, subtype string) error {
	return a.initBase(rt, self, RoleAgent, subtype)
}

// EnvironmentBase is embedded by environment types. Environments simulate on their
// first tick by default.
type EnvironmentBase struct {
	Independent
}

// InitEnvironment registers an environment with the given simulation interval.
func (e *EnvironmentBase) InitEnvironment(rt *Runtime, self Object, subtype string, interval time.Duration) error {
	if err := e.initBase(rt, self, RoleEnvironment, subtype); err != nil {
		return err
	}
	e.SetSimulationInterval(interval)
	e.SetSimulateOnFirstTick(true)
	return nil
}
