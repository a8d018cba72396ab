package sim

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim/bus"
)

// Clock exposes the orchestrator's notion of simulated time to objects.
type Clock interface {
	Now() time.Time
	TickInterval() time.Duration
}

// Runtime bundles the kernel services every simulated object is constructed with.
// It replaces process-wide singletons: two kernels in one process never share state.
type Runtime struct {
	Bus   *bus.Bus
	IDs   *IDGenerator
	RNG   *PartitionedRNG
	Clock Clock
	Sink  MetricSink
}

// Rand returns the domain RNG stream.
func (rt *Runtime) Rand() *rand.Rand {
	return rt.RNG.ForSubsystem(SubsystemDomain)
}

// Object is the lifecycle contract shared by every simulated object.
//
// Concrete types satisfy it by embedding one of AgentBase, EnvironmentBase,
// ActionBase, StateBase, EffectBase, EventBase or MetricBase and calling the
// matching Init method from their constructor.
type Object interface {
	ID() string
	Role() Role
	Subtype() string

	// Simulate performs one unit of domain work. Called by Tick when due.
	Simulate() error
	// Validate checks structural preconditions before Start.
	Validate() error

	Start() error
	Pause() error
	Unpause() error
	Destroy()
	Tick() error

	Paused() bool
	Started() bool
	Destroyed() bool
	TickCount() int64
	SimulationCount() int64

	base() *Base
}

// Optional hooks, detected by type assertion on the concrete object.
type (
	BeforeStarter   interface{ BeforeStart() error }
	BeforePauser    interface{ BeforePause() error }
	BeforeUnpauser  interface{ BeforeUnpause() error }
	BeforeDestroyer interface{ BeforeDestroy() error }

	// Rehydrater restores non-owning references after a snapshot load, once every
	// object of the snapshot is registered.
	Rehydrater interface{ Rehydrate(r Resolver) error }
)

// Hooks the role bases implement for themselves. Domain code never sees them.
type (
	kernelStarter    interface{ kernelStart() error }
	kernelPauser     interface{ kernelPause() error }
	kernelUnpauser   interface{ kernelUnpause() error }
	kernelDestroyer  interface{ kernelDestroy() }
	kernelRehydrater interface{ kernelRehydrate(r Resolver) error }
)

type cleanup struct {
	fn     func() error
	active bool
}

// Base carries the identity, lifecycle flags, counters and cadence of an object.
// It is embedded (through a role base) by every concrete simulated object.
type Base struct {
	self    Object
	rt      *Runtime
	id      string
	role    Role
	subtype string

	started    bool
	paused     bool
	destroying bool
	destroyed  bool

	tickCount       int64
	simulationCount int64
	cadence         Cadence
	location        *time.Location

	cleanups []*cleanup
}

func (b *Base) base() *Base { return b }

// initBase assigns identity and announces the object on the bus. The object starts
// paused and must be started explicitly.
func (b *Base) initBase(rt *Runtime, self Object, role Role, subtype string) error {
	b.self = self
	b.rt = rt
	b.role = role
	b.subtype = subtype
	b.id = rt.IDs.Next(role)
	b.paused = true
	b.cadence = Cadence{Interval: 1}
	if err := rt.Bus.Publish(bus.TopicObjectCreated, self); err != nil {
		return fmt.Errorf("register %s: %w", b, err)
	}
	return nil
}

func (b *Base) ID() string      { return b.id }
func (b *Base) Role() Role      { return b.role }
func (b *Base) Subtype() string { return b.subtype }
func (b *Base) Paused() bool    { return b.paused }
func (b *Base) Started() bool   { return b.started }
func (b *Base) Destroyed() bool { return b.destroyed }

func (b *Base) TickCount() int64       { return b.tickCount }
func (b *Base) SimulationCount() int64 { return b.simulationCount }

// Runtime returns the kernel services the object was constructed with.
func (b *Base) Runtime() *Runtime { return b.rt }

func (b *Base) String() string {
	return fmt.Sprintf("%s/%s(%s)", b.role, b.subtype, b.id)
}

// SetSimulationInterval sets how often Simulate runs, quantized to whole ticks.
func (b *Base) SetSimulationInterval(d time.Duration) {
	b.cadence.Interval = IntervalTicks(d, b.rt.Clock.TickInterval())
}

// SimulationInterval returns the effective interval after quantization.
func (b *Base) SimulationInterval() time.Duration {
	return time.Duration(b.cadence.Interval) * b.rt.Clock.TickInterval()
}

// SimulationIntervalTicks returns the interval in ticks.
func (b *Base) SimulationIntervalTicks() int64 { return b.cadence.Interval }

// SetSimulateOnFirstTick makes the object simulate on its very first tick.
func (b *Base) SetSimulateOnFirstTick(v bool) { b.cadence.FirstTick = v }

func (b *Base) SimulateOnFirstTick() bool { return b.cadence.FirstTick }

// TicksSinceSimulation returns ticks elapsed since the last simulation, zero when the
// object has never ticked.
func (b *Base) TicksSinceSimulation() int64 { return b.cadence.SinceLast }

// SetLocation sets the time zone Now reports in. Nil means UTC.
func (b *Base) SetLocation(loc *time.Location) { b.location = loc }

func (b *Base) Location() *time.Location {
	if b.location == nil {
		return time.UTC
	}
	return b.location
}

// Now returns the simulated time in the object's location.
func (b *Base) Now() time.Time {
	return b.rt.Clock.Now().In(b.Location())
}

// Lifetime returns how long the object has been ticking: ticks × tick length.
func (b *Base) Lifetime() time.Duration {
	return time.Duration(b.tickCount) * b.rt.Clock.TickInterval()
}

// Start validates the object, runs its before-start hooks and unpauses it.
// It may be called exactly once.
func (b *Base) Start() error {
	if b.destroyed {
		return fmt.Errorf("start %s: %w", b, ErrDestroyed)
	}
	if b.started {
		return fmt.Errorf("start %s: %w", b, ErrAlreadyStarted)
	}
	if err := b.self.Validate(); err != nil {
		return fmt.Errorf("validate %s: %w", b, err)
	}
	if k, ok := b.self.(kernelStarter); ok {
		if err := k.kernelStart(); err != nil {
			return fmt.Errorf("start %s: %w", b, err)
		}
	}
	if h, ok := b.self.(BeforeStarter); ok {
		if err := h.BeforeStart(); err != nil {
			return fmt.Errorf("before start %s: %w", b, err)
		}
	}
	b.started = true
	// dependents of a paused subject wait for the subject to unpause them
	if d, ok := b.self.(interface{ subjectPaused() bool }); ok && d.subjectPaused() {
		return nil
	}
	return b.Unpause()
}

// Pause stops the object from ticking.
func (b *Base) Pause() error {
	if h, ok := b.self.(BeforePauser); ok {
		if err := h.BeforePause(); err != nil {
			return fmt.Errorf("before pause %s: %w", b, err)
		}
	}
	if k, ok := b.self.(kernelPauser); ok {
		if err := k.kernelPause(); err != nil {
			return err
		}
	}
	b.paused = true
	return nil
}

// Unpause resumes ticking.
func (b *Base) Unpause() error {
	if b.destroyed {
		return fmt.Errorf("unpause %s: %w", b, ErrDestroyed)
	}
	if h, ok := b.self.(BeforeUnpauser); ok {
		if err := h.BeforeUnpause(); err != nil {
			return fmt.Errorf("before unpause %s: %w", b, err)
		}
	}
	if k, ok := b.self.(kernelUnpauser); ok {
		if err := k.kernelUnpause(); err != nil {
			return err
		}
	}
	b.paused = false
	return nil
}

// AddCleanup registers fn to run when the object is destroyed. Cleanups run in
// registration order. The returned function cancels the registration.
func (b *Base) AddCleanup(fn func() error) (cancel func()) {
	c := &cleanup{fn: fn, active: true}
	b.cleanups = append(b.cleanups, c)
	return func() {
		c.active = false
		if i := slices.Index(b.cleanups, c); i >= 0 {
			b.cleanups = slices.Delete(b.cleanups, i, i+1)
		}
	}
}

// Destroy runs the destroy hooks, cascades to owned objects, runs cleanups and
// deregisters the object. Hook and cleanup failures are logged; destruction always
// completes. Destroy is idempotent.
func (b *Base) Destroy() {
	if b.destroyed || b.destroying {
		return
	}
	b.destroying = true
	if h, ok := b.self.(BeforeDestroyer); ok {
		if err := h.BeforeDestroy(); err != nil {
			logrus.Errorf("before destroy %s: %v", b, err)
		}
	}
	if k, ok := b.self.(kernelDestroyer); ok {
		k.kernelDestroy()
	}
	cleanups := b.cleanups
	b.cleanups = nil
	for i, c := range cleanups {
		if !c.active {
			continue
		}
		if err := c.fn(); err != nil {
			logrus.WithFields(logrus.Fields{"object": b.String(), "cleanup": i}).
				Errorf("cleanup failed: %v", err)
		}
	}
	b.paused = true
	b.destroyed = true
	if err := b.rt.Bus.Publish(bus.TopicObjectDestroyed, b.self); err != nil {
		logrus.Errorf("deregister %s: %v", b, err)
	}
}

// Tick is called by the orchestrator once per tick. It is a no-op while paused;
// otherwise it simulates when the cadence says so and counts the tick.
func (b *Base) Tick() error {
	if b.paused || b.destroyed {
		return nil
	}
	if b.cadence.Step() {
		if err := b.self.Simulate(); err != nil {
			return fmt.Errorf("simulate %s: %w", b, err)
		}
		b.simulationCount++
	}
	b.tickCount++
	return nil
}

// LifecycleState is the kernel-owned part of an object's persisted record.
type LifecycleState struct {
	Started         bool    `json:"started"`
	Paused          bool    `json:"paused"`
	TickCount       int64   `json:"tick_count"`
	SimulationCount int64   `json:"simulation_count"`
	Cadence         Cadence `json:"cadence"`
	Location        string  `json:"location,omitempty"`
}

func (b *Base) lifecycle() LifecycleState {
	st := LifecycleState{
		Started:         b.started,
		Paused:          b.paused,
		TickCount:       b.tickCount,
		SimulationCount: b.simulationCount,
		Cadence:         b.cadence,
	}
	if b.location != nil {
		st.Location = b.location.String()
	}
	return st
}

// restoreBase rebuilds identity and lifecycle without publishing anything; the
// snapshot loader registers the object itself.
func (b *Base) restoreBase(rt *Runtime, self Object, id string, role Role, subtype string, st LifecycleState) error {
	b.self = self
	b.rt = rt
	b.id = id
	b.role = role
	b.subtype = subtype
	b.started = st.Started
	b.paused = st.Paused
	b.tickCount = st.TickCount
	b.simulationCount = st.SimulationCount
	b.cadence = st.Cadence
	b.location = nil
	if st.Location != "" {
		loc, err := time.LoadLocation(st.Location)
		if err != nil {
			return fmt.Errorf("restore %s location: %w", id, err)
		}
		b.location = loc
	}
	return nil
}
