package sim

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/inference-sim/simkernel/sim/bus"
)

// RegistryImageVersion is bumped whenever the record layout changes incompatibly.
const RegistryImageVersion = 1

// StateMarshaler lets a concrete type control its own persisted payload. Types that
// do not implement it are encoded as JSON of their exported fields; object
// references must then be tagged `json:"-"` and restored in Rehydrate.
type StateMarshaler interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// AssociationRecord persists one named relation.
type AssociationRecord struct {
	Name    string `json:"name"`
	Members []Ref  `json:"members"`
}

// ObjectRecord is the persisted form of one object. Dependents are nested in their
// owner's record.
type ObjectRecord struct {
	ID           string              `json:"id"`
	Role         Role                `json:"role"`
	Subtype      string              `json:"subtype"`
	Lifecycle    LifecycleState      `json:"lifecycle"`
	Kind         json.RawMessage     `json:"kind,omitempty"`
	Data         json.RawMessage     `json:"data,omitempty"`
	Owned        []ObjectRecord      `json:"owned,omitempty"`
	Associations []AssociationRecord `json:"associations,omitempty"`
}

// RegistryImage is the persisted form of a whole registry.
type RegistryImage struct {
	Version int               `json:"version"`
	Total   int               `json:"total"`
	Order   map[Role][]string `json:"order"`
	Objects []ObjectRecord    `json:"objects"`
}

// role-specific kernel state of actions, effects, events and metrics
type kindCodec interface {
	encodeKind() (json.RawMessage, error)
	decodeKind(raw json.RawMessage) error
}

// EncodeRegistry captures every registered object.
func EncodeRegistry(reg *Registry) (*RegistryImage, error) {
	img := &RegistryImage{
		Version: RegistryImageVersion,
		Total:   reg.Len(),
		Order:   make(map[Role][]string, roleCount),
	}
	for _, role := range TickOrder {
		img.Order[role] = reg.IDs(role)
	}
	for _, role := range TickOrder {
		for _, obj := range reg.Objects(role) {
			if !topLevel(obj) {
				continue
			}
			rec, err := encodeObject(obj)
			if err != nil {
				return nil, err
			}
			img.Objects = append(img.Objects, rec)
		}
	}
	return img, nil
}

// topLevel reports whether obj is persisted on its own rather than inside its owner.
func topLevel(obj Object) bool {
	d, ok := obj.(dependentObject)
	return !ok || d.dependent().subject == nil
}

func encodeObject(obj Object) (ObjectRecord, error) {
	b := obj.base()
	rec := ObjectRecord{
		ID:        b.id,
		Role:      b.role,
		Subtype:   b.subtype,
		Lifecycle: b.lifecycle(),
	}
	if k, ok := obj.(kindCodec); ok {
		raw, err := k.encodeKind()
		if err != nil {
			return rec, fmt.Errorf("encode %s kernel state: %w", b, err)
		}
		rec.Kind = raw
	}
	data, err := marshalData(obj)
	if err != nil {
		return rec, fmt.Errorf("encode %s: %w", b, err)
	}
	rec.Data = data

	if o, ok := obj.(owner); ok {
		in := o.independent()
		for _, child := range in.AllOwned() {
			childRec, err := encodeObject(child)
			if err != nil {
				return rec, err
			}
			rec.Owned = append(rec.Owned, childRec)
		}
		for _, name := range in.assocNames {
			ar := AssociationRecord{Name: name, Members: make([]Ref, 0, len(in.assoc[name]))}
			for _, m := range in.assoc[name] {
				ar.Members = append(ar.Members, RefOf(m))
			}
			rec.Associations = append(rec.Associations, ar)
		}
	}
	return rec, nil
}

func marshalData(obj Object) (json.RawMessage, error) {
	if m, ok := obj.(StateMarshaler); ok {
		b, err := m.MarshalState()
		if err != nil {
			return nil, err
		}
		return json.Marshal(b)
	}
	return json.Marshal(obj)
}

func unmarshalData(obj Object, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if m, ok := obj.(StateMarshaler); ok {
		var b []byte
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		return m.UnmarshalState(b)
	}
	return json.Unmarshal(raw, obj)
}

// RestoreRegistry rebuilds the objects of img into reg, which must be attached to
// rt.Bus and empty.
//
// Order: top-level objects are decoded and registered with references dangling;
// every independent object re-registers its owned objects; environments, events,
// agents and metrics then resolve their references and run Rehydrate hooks; the
// object count is checked; finally bucket order is restored and rotation reset.
func RestoreRegistry(img *RegistryImage, cat *Catalog, rt *Runtime, reg *Registry) error {
	if img.Version != RegistryImageVersion {
		return fmt.Errorf("registry image version %d, want %d", img.Version, RegistryImageVersion)
	}
	if !reg.IsEmpty() {
		return fmt.Errorf("restore into non-empty registry (%d objects)", reg.Len())
	}

	var orphans []Object
	for _, rec := range img.Objects {
		obj, err := decodeObject(rec, cat, rt)
		if err != nil {
			return err
		}
		if err := rt.Bus.Publish(bus.TopicObjectCreated, obj); err != nil {
			return fmt.Errorf("register %s: %w", rec.ID, err)
		}
		if rec.Role.Dependent() {
			orphans = append(orphans, obj)
		}
	}

	for _, role := range [...]Role{RoleEnvironment, RoleAgent} {
		for _, obj := range reg.Objects(role) {
			if err := obj.(owner).independent().reattachOwned(); err != nil {
				return err
			}
		}
	}

	for _, role := range rehydrationOrder {
		for _, obj := range reg.Objects(role) {
			if err := rehydrate(obj, reg); err != nil {
				return err
			}
		}
	}
	for _, obj := range orphans {
		if err := rehydrate(obj, reg); err != nil {
			return err
		}
	}

	if reg.Len() != img.Total {
		return fmt.Errorf("restored %d objects, snapshot recorded %d: %w", reg.Len(), img.Total, ErrCountMismatch)
	}

	for _, role := range TickOrder {
		if err := reg.Reorder(role, img.Order[role]); err != nil {
			return err
		}
	}
	reg.ResetRotation()
	return nil
}

func rehydrate(obj Object, r Resolver) error {
	if k, ok := obj.(kernelRehydrater); ok {
		if err := k.kernelRehydrate(r); err != nil {
			return err
		}
	}
	if h, ok := obj.(Rehydrater); ok {
		if err := h.Rehydrate(r); err != nil {
			return fmt.Errorf("rehydrate %s: %w", obj.base(), err)
		}
	}
	return nil
}

func decodeObject(rec ObjectRecord, cat *Catalog, rt *Runtime) (Object, error) {
	if !rec.Role.Valid() {
		return nil, fmt.Errorf("decode %s: invalid role", rec.ID)
	}
	obj, err := cat.New(rec.Subtype)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.ID, err)
	}
	if !embedsRoleBase(obj, rec.Role) {
		return nil, fmt.Errorf("decode %s: catalog type %T cannot hold a %s", rec.ID, obj, rec.Role)
	}
	if err := obj.base().restoreBase(rt, obj, rec.ID, rec.Role, rec.Subtype, rec.Lifecycle); err != nil {
		return nil, err
	}
	if k, ok := obj.(kindCodec); ok && len(rec.Kind) > 0 {
		if err := k.decodeKind(rec.Kind); err != nil {
			return nil, fmt.Errorf("decode %s kernel state: %w", rec.ID, err)
		}
	}
	if err := unmarshalData(obj, rec.Data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", rec.ID, err)
	}

	if len(rec.Owned) == 0 && len(rec.Associations) == 0 {
		return obj, nil
	}
	o, ok := obj.(owner)
	if !ok {
		return nil, fmt.Errorf("decode %s: %s cannot own objects", rec.ID, rec.Role)
	}
	in := o.independent()
	for _, childRec := range rec.Owned {
		child, err := decodeObject(childRec, cat, rt)
		if err != nil {
			return nil, err
		}
		d, ok := child.(dependentObject)
		if !ok {
			return nil, fmt.Errorf("decode %s: owned %s is not a dependent", rec.ID, childRec.ID)
		}
		if err := in.adopt(child); err != nil {
			return nil, err
		}
		d.dependent().subject = obj
	}
	in.pendingAssoc = rec.Associations
	return obj, nil
}

func embedsRoleBase(obj Object, role Role) bool {
	switch role {
	case RoleAgent, RoleEnvironment:
		_, ok := obj.(owner)
		return ok
	case RoleState, RoleAction, RoleEffect:
		_, ok := obj.(dependentObject)
		return ok
	case RoleEvent:
		_, ok := obj.(interface{ StartTime() time.Time })
		return ok
	case RoleMetric:
		_, ok := obj.(interface{ Attach(Object) error })
		return ok
	}
	return false
}
