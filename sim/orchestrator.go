package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/inference-sim/simkernel/sim/bus"
	"github.com/inference-sim/simkernel/sim/trace"
)

const tracerName = "github.com/inference-sim/simkernel/sim"

// Persister is consulted by the orchestrator around the tick loop. The snapshot
// store implements it.
type Persister interface {
	// BeforeRun is called once when Run starts, before the first tick.
	BeforeRun(ctx context.Context, o *Orchestrator) error
	// AfterTick is called after every tick that advanced the clock.
	AfterTick(ctx context.Context, o *Orchestrator) error
}

// Poller runs at the start of every tick, paused or not, right after due commands.
type Poller interface {
	Poll(o *Orchestrator) error
}

// Observer receives kernel-level measurements. observe.Collector implements it.
type Observer interface {
	TickCompleted(elapsed time.Duration)
	ObjectCount(role string, n int)
	CommandExecuted(name string, err error)
	SnapshotSaved(elapsed time.Duration)
}

// Options configures a new Orchestrator.
type Options struct {
	Start        time.Time
	End          time.Time // zero means unbounded
	TickInterval time.Duration
	Seed         int64
	// StartPaused leaves the clock stopped until Resume (or a Start command).
	StartPaused bool
	// TimeIndicatorInterval is the simulated period between progress log lines.
	// Zero disables them.
	TimeIndicatorInterval time.Duration
	// PausedBackoff is the wall-clock delay Run waits between ticks while paused.
	PausedBackoff time.Duration
	MetricSink    MetricSink
}

// ClockState is the orchestrator state persisted alongside a snapshot.
type ClockState struct {
	Start        time.Time     `json:"start"`
	Current      time.Time     `json:"current"`
	End          time.Time     `json:"end,omitzero"`
	TickInterval time.Duration `json:"tick_interval"`
	TotalTicks   int64         `json:"total_ticks"`
	Paused       bool          `json:"paused"`
}

// Orchestrator owns the clock and drives every registered object, role by role,
// once per tick.
//
// Thread-safety: NOT thread-safe. Tick, Run and the Progress methods must be called
// from a single goroutine; commands and pollers run on that goroutine.
type Orchestrator struct {
	start        time.Time
	end          time.Time
	current      time.Time
	tickInterval time.Duration
	totalTicks   int64

	paused  bool
	ticking bool
	stopped bool

	timeIndicatorTicks int64
	pausedBackoff      time.Duration

	bus      *bus.Bus
	registry *Registry
	rng      *PartitionedRNG
	ids      *IDGenerator
	rt       *Runtime
	commands *CommandQueue

	persister Persister
	pollers   []Poller
	observer  Observer
	trace     *trace.SimulationTrace
}

// New builds an orchestrator with its own bus, registry, RNG and id generator.
func New(opts Options) (*Orchestrator, error) {
	if opts.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", opts.TickInterval)
	}
	if !opts.End.IsZero() && opts.End.Before(opts.Start) {
		return nil, fmt.Errorf("end time %s is before start time %s", opts.End, opts.Start)
	}
	o := &Orchestrator{
		start:         opts.Start,
		end:           opts.End,
		current:       opts.Start,
		tickInterval:  opts.TickInterval,
		paused:        opts.StartPaused,
		pausedBackoff: opts.PausedBackoff,
		bus:           bus.New(),
		registry:      NewRegistry(),
		rng:           NewPartitionedRNG(NewSimulationKey(opts.Seed)),
		commands:      NewCommandQueue(),
	}
	if opts.TimeIndicatorInterval > 0 {
		o.timeIndicatorTicks = IntervalTicks(opts.TimeIndicatorInterval, opts.TickInterval)
	}
	o.ids = NewIDGenerator(o.rng.ForSubsystem(SubsystemIDs))
	o.registry.Attach(o.bus)
	sink := opts.MetricSink
	if sink == nil {
		sink = LogSink{}
	}
	o.rt = &Runtime{Bus: o.bus, IDs: o.ids, RNG: o.rng, Clock: o, Sink: sink}
	return o, nil
}

// Runtime returns the services objects of this kernel are constructed with.
func (o *Orchestrator) Runtime() *Runtime { return o.rt }

func (o *Orchestrator) Registry() *Registry     { return o.registry }
func (o *Orchestrator) Bus() *bus.Bus           { return o.bus }
func (o *Orchestrator) RNG() *PartitionedRNG    { return o.rng }
func (o *Orchestrator) IDs() *IDGenerator       { return o.ids }
func (o *Orchestrator) Commands() *CommandQueue { return o.commands }

// Now implements Clock.
func (o *Orchestrator) Now() time.Time { return o.current }

// TickInterval implements Clock.
func (o *Orchestrator) TickInterval() time.Duration { return o.tickInterval }

func (o *Orchestrator) StartTime() time.Time { return o.start }
func (o *Orchestrator) EndTime() time.Time   { return o.end }
func (o *Orchestrator) TotalTicks() int64    { return o.totalTicks }
func (o *Orchestrator) Paused() bool         { return o.paused }
func (o *Orchestrator) Ticking() bool        { return o.ticking }
func (o *Orchestrator) Stopped() bool        { return o.stopped }

// Finished reports whether the clock has reached the configured end time.
func (o *Orchestrator) Finished() bool {
	return !o.end.IsZero() && !o.current.Before(o.end)
}

func (o *Orchestrator) SetPersister(p Persister) { o.persister = p }
func (o *Orchestrator) AddPoller(p Poller)       { o.pollers = append(o.pollers, p) }
func (o *Orchestrator) SetObserver(obs Observer) { o.observer = obs }
func (o *Orchestrator) Observer() Observer       { return o.observer }

// SetTrace enables tick/command recording into st.
func (o *Orchestrator) SetTrace(st *trace.SimulationTrace) { o.trace = st }

func (o *Orchestrator) Trace() *trace.SimulationTrace { return o.trace }

// Schedule queues fn to run at the start of the first tick whose time is at or after
// at. Commands run even while paused.
func (o *Orchestrator) Schedule(at time.Time, name string, fn func() error) {
	o.commands.Schedule(at, name, fn)
}

// ScheduleNow queues fn for the next tick.
func (o *Orchestrator) ScheduleNow(name string, fn func() error) {
	o.commands.Schedule(o.current, name, fn)
}

// Pause stops the clock. Objects keep their own paused flags.
func (o *Orchestrator) Pause() {
	if !o.paused {
		logrus.Infof("Simulation paused at %s", o.current.Format(time.RFC3339))
	}
	o.paused = true
}

// Resume restarts the clock.
func (o *Orchestrator) Resume() {
	if o.paused {
		logrus.Infof("Simulation resumed at %s", o.current.Format(time.RFC3339))
	}
	o.paused = false
}

// Stop destroys every object, clears the registry and ends Run.
func (o *Orchestrator) Stop() {
	if o.stopped {
		return
	}
	logrus.Infof("Simulation stopped at %s after %d ticks", o.current.Format(time.RFC3339), o.totalTicks)
	for _, obj := range o.registry.All() {
		obj.Destroy()
	}
	o.registry.Clear()
	o.stopped = true
}

// Lookup returns the object with the given id.
func (o *Orchestrator) Lookup(id string) (Object, bool) {
	return o.registry.Lookup(id)
}

// Environment returns the first environment of the given subtype, or nil.
func (o *Orchestrator) Environment(subtype string) Object {
	for _, env := range o.registry.Objects(RoleEnvironment) {
		if env.Subtype() == subtype {
			return env
		}
	}
	return nil
}

// Tick advances the simulation by one tick.
//
// Due commands and pollers run first, even while paused. When not paused every
// object is ticked, role by role in TickOrder, each bucket in round-robin order;
// then the clock advances and the persister runs. Any error aborts the tick before
// the clock moves.
func (o *Orchestrator) Tick() error {
	return o.tick(context.Background())
}

func (o *Orchestrator) tick(ctx context.Context) error {
	if o.ticking {
		return ErrReentrantTick
	}
	o.ticking = true
	defer func() { o.ticking = false }()

	due := o.commands.PopDue(o.current)
	for i, cmd := range due {
		err := cmd.Run()
		if o.observer != nil {
			o.observer.CommandExecuted(cmd.Name, err)
		}
		if o.trace.WantsCommands() {
			rec := trace.CommandRecord{Name: cmd.Name, ScheduledAt: cmd.At, ExecutedAt: o.current, Tick: o.totalTicks}
			if err != nil {
				rec.Err = err.Error()
			}
			o.trace.RecordCommand(rec)
		}
		if err != nil {
			o.commands.Requeue(due[i+1:]...)
			return fmt.Errorf("command %s: %w", cmd.Name, err)
		}
	}
	for _, p := range o.pollers {
		if err := p.Poll(o); err != nil {
			return err
		}
	}
	if o.paused || o.stopped {
		return nil
	}

	if o.timeIndicatorTicks > 0 && o.totalTicks%o.timeIndicatorTicks == 0 {
		logrus.Infof("==== %s ====", o.current.Format("2006-01-02 15:04"))
	}

	wallStart := time.Now()
	var ticked map[string]int
	if o.trace.WantsTicks() {
		ticked = make(map[string]int, roleCount)
	}
	for _, role := range TickOrder {
		objs := o.registry.RoundRobin(role)
		for _, obj := range objs {
			if err := obj.Tick(); err != nil {
				return fmt.Errorf("tick %d: %w", o.totalTicks+1, err)
			}
		}
		if ticked != nil {
			ticked[role.String()] = len(objs)
		}
	}
	elapsed := time.Since(wallStart)

	o.current = o.current.Add(o.tickInterval)
	o.totalTicks++

	if o.observer != nil {
		o.observer.TickCompleted(elapsed)
		for _, role := range TickOrder {
			o.observer.ObjectCount(role.String(), o.registry.Count(role))
		}
	}
	if ticked != nil {
		o.trace.RecordTick(trace.TickRecord{Tick: o.totalTicks, SimTime: o.current, Ticked: ticked, Elapsed: elapsed})
	}
	if o.persister != nil {
		if err := o.persister.AfterTick(ctx, o); err != nil {
			return fmt.Errorf("persist after tick %d: %w", o.totalTicks, err)
		}
	}
	return nil
}

// ProgressBy ticks enough times to cover d: ceil(d / tick interval).
func (o *Orchestrator) ProgressBy(d time.Duration) error {
	if o.ticking {
		return ErrReentrantTick
	}
	if d < 0 {
		return fmt.Errorf("progress by %v: %w", d, ErrNegativeDuration)
	}
	ticks := int64(d / o.tickInterval)
	if d%o.tickInterval != 0 {
		ticks++
	}
	for i := int64(0); i < ticks; i++ {
		if err := o.Tick(); err != nil {
			return err
		}
	}
	return nil
}

// ProgressUntil ticks until the clock covers target.
func (o *Orchestrator) ProgressUntil(target time.Time) error {
	if o.ticking {
		return ErrReentrantTick
	}
	if target.Before(o.current) {
		return fmt.Errorf("progress until %s: %w", target.Format(time.RFC3339), ErrTargetInPast)
	}
	return o.ProgressBy(target.Sub(o.current))
}

// Run ticks until the end time is reached, Stop is called or ctx is done. While
// paused it keeps ticking (so commands still arrive) with PausedBackoff between ticks.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.run",
		oteltrace.WithAttributes(attribute.String("start", o.current.Format(time.RFC3339))))
	defer func() {
		span.SetAttributes(attribute.Int64("total_ticks", o.totalTicks))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if o.ticking {
		return ErrReentrantTick
	}
	if o.persister != nil {
		if err := o.persister.BeforeRun(ctx, o); err != nil {
			return fmt.Errorf("persist before run: %w", err)
		}
	}
	logrus.Infof("Simulation running from %s", o.current.Format(time.RFC3339))
	for !o.stopped && !o.Finished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.tick(ctx); err != nil {
			return err
		}
		if o.paused && o.pausedBackoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.pausedBackoff):
			}
		}
	}
	logrus.Infof("Simulation finished at %s after %d ticks", o.current.Format(time.RFC3339), o.totalTicks)
	return nil
}

// State captures the clock for a snapshot.
func (o *Orchestrator) State() ClockState {
	return ClockState{
		Start:        o.start,
		Current:      o.current,
		End:          o.end,
		TickInterval: o.tickInterval,
		TotalTicks:   o.totalTicks,
		Paused:       o.paused,
	}
}

// RestoreState resets the clock from a snapshot. The end time and tick interval
// configured at construction are kept.
func (o *Orchestrator) RestoreState(st ClockState) error {
	if st.TickInterval != o.tickInterval {
		return fmt.Errorf("snapshot tick interval %v differs from configured %v", st.TickInterval, o.tickInterval)
	}
	o.start = st.Start
	o.current = st.Current
	o.totalTicks = st.TotalTicks
	o.paused = st.Paused
	return nil
}
