package sim

import (
	"fmt"

	"github.com/inference-sim/simkernel/sim/bus"
)

// Resolver turns persisted references back into live objects.
type Resolver interface {
	Resolve(ref Ref) (Object, error)
}

// Registry holds every live object, partitioned by role. Each role bucket keeps
// insertion order and its own round-robin rotation counter.
//
// Thread-safety: NOT thread-safe. Must be used from the simulation goroutine.
type Registry struct {
	buckets  [roleCount][]Object
	index    map[string]Object
	rotation [roleCount]int
	subs     []bus.Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]Object)}
}

// Attach subscribes the registry to object creation and destruction on b.
func (r *Registry) Attach(b *bus.Bus) {
	r.subs = append(r.subs,
		b.Subscribe(bus.TopicObjectCreated, func(payload any) error {
			obj, ok := payload.(Object)
			if !ok {
				return fmt.Errorf("object-created payload %T is not an Object", payload)
			}
			return r.Add(obj)
		}),
		b.Subscribe(bus.TopicObjectDestroyed, func(payload any) error {
			if obj, ok := payload.(Object); ok {
				r.Remove(obj)
			}
			return nil
		}),
	)
}

// Detach removes the registry's subscriptions from b.
func (r *Registry) Detach(b *bus.Bus) {
	for _, s := range r.subs {
		b.Unsubscribe(s)
	}
	r.subs = nil
}

// Add appends obj to its role bucket. Adding an id twice fails.
func (r *Registry) Add(obj Object) error {
	role := obj.Role()
	if !role.Valid() {
		return fmt.Errorf("add %s: invalid role", obj.ID())
	}
	if _, exists := r.index[obj.ID()]; exists {
		return fmt.Errorf("add %s: %w", obj.ID(), ErrDuplicateObject)
	}
	r.index[obj.ID()] = obj
	r.buckets[role] = append(r.buckets[role], obj)
	return nil
}

// Remove deletes obj from its bucket. It reports whether obj was present.
func (r *Registry) Remove(obj Object) bool {
	if cur, ok := r.index[obj.ID()]; !ok || cur != obj {
		return false
	}
	delete(r.index, obj.ID())
	role := obj.Role()
	bucket := r.buckets[role]
	for i, o := range bucket {
		if o == obj {
			r.buckets[role] = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the object with id in the given role.
func (r *Registry) Get(role Role, id string) (Object, bool) {
	obj, ok := r.index[id]
	if !ok || obj.Role() != role {
		return nil, false
	}
	return obj, true
}

// Lookup returns the object with id regardless of role.
func (r *Registry) Lookup(id string) (Object, bool) {
	obj, ok := r.index[id]
	return obj, ok
}

// Resolve implements Resolver.
func (r *Registry) Resolve(ref Ref) (Object, error) {
	obj, ok := r.Get(ref.Role, ref.ID)
	if !ok {
		return nil, fmt.Errorf("resolve %s %s: %w", ref.Role, ref.ID, ErrUnknownObject)
	}
	return obj, nil
}

func (r *Registry) IsEmpty() bool { return len(r.index) == 0 }

// Len returns the number of registered objects across all roles.
func (r *Registry) Len() int { return len(r.index) }

// Count returns the number of registered objects of one role.
func (r *Registry) Count(role Role) int {
	if !role.Valid() {
		return 0
	}
	return len(r.buckets[role])
}

// Objects returns a copy of one bucket in insertion order.
func (r *Registry) Objects(role Role) []Object {
	if !role.Valid() {
		return nil
	}
	return append([]Object(nil), r.buckets[role]...)
}

// All returns every object, bucket by bucket in tick order.
func (r *Registry) All() []Object {
	out := make([]Object, 0, len(r.index))
	for _, role := range TickOrder {
		out = append(out, r.buckets[role]...)
	}
	return out
}

// RoundRobin returns a copy of the bucket rotated left by the role's counter, then
// advances the counter. Over len(bucket) consecutive calls on an unchanged bucket,
// every member is first exactly once.
func (r *Registry) RoundRobin(role Role) []Object {
	if !role.Valid() {
		return nil
	}
	bucket := r.buckets[role]
	n := len(bucket)
	out := make([]Object, n)
	if n > 0 {
		k := r.rotation[role] % n
		copy(out, bucket[k:])
		copy(out[n-k:], bucket[:k])
	}
	r.rotation[role]++
	return out
}

// Rotation returns the role's round-robin counter.
func (r *Registry) Rotation(role Role) int {
	if !role.Valid() {
		return 0
	}
	return r.rotation[role]
}

// ResetRotation zeroes every rotation counter.
func (r *Registry) ResetRotation() {
	r.rotation = [roleCount]int{}
}

// IDs returns one bucket's ids in insertion order.
func (r *Registry) IDs(role Role) []string {
	bucket := r.buckets[role]
	ids := make([]string, len(bucket))
	for i, o := range bucket {
		ids[i] = o.ID()
	}
	return ids
}

// Reorder rearranges a bucket to follow ids. Objects not named keep their relative
// order after the named ones; unknown ids fail.
func (r *Registry) Reorder(role Role, ids []string) error {
	if !role.Valid() {
		return fmt.Errorf("reorder: invalid role %d", int(role))
	}
	placed := make(map[string]bool, len(ids))
	ordered := make([]Object, 0, len(r.buckets[role]))
	for _, id := range ids {
		obj, ok := r.Get(role, id)
		if !ok {
			return fmt.Errorf("reorder %s %s: %w", role, id, ErrUnknownObject)
		}
		if placed[id] {
			continue
		}
		placed[id] = true
		ordered = append(ordered, obj)
	}
	for _, obj := range r.buckets[role] {
		if !placed[obj.ID()] {
			ordered = append(ordered, obj)
		}
	}
	r.buckets[role] = ordered
	return nil
}

// Clear drops every object without destroying them.
func (r *Registry) Clear() {
	r.buckets = [roleCount][]Object{}
	r.index = make(map[string]Object)
	r.ResetRotation()
}
