// Package testutil provides shared test infrastructure for the kernel packages.
// It holds small concrete object types, one per role, that record what the kernel
// does to them, plus helpers to build a kernel on a fixed clock.
package testutil

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/inference-sim/simkernel/sim"
)

// Epoch is the start time of every test kernel.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewKernel builds an orchestrator ticking hourly from Epoch with seed 42.
// Fields set on opts override those defaults.
func NewKernel(t *testing.T, opts sim.Options) *sim.Orchestrator {
	t.Helper()
	if opts.Start.IsZero() {
		opts.Start = Epoch
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Hour
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	o, err := sim.New(opts)
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	return o
}

// Journal records simulate calls in order, as "<subtype>:<id>".
type Journal struct {
	Entries []string
}

func (j *Journal) add(obj sim.Object) {
	if j != nil {
		j.Entries = append(j.Entries, obj.Subtype()+":"+obj.ID())
	}
}

// Subtypes returns the subtype part of every entry.
func (j *Journal) Subtypes() []string {
	out := make([]string, len(j.Entries))
	for i, e := range j.Entries {
		out[i], _, _ = strings.Cut(e, ":")
	}
	return out
}

func (j *Journal) Reset() { j.Entries = nil }

// ErrBoom is returned by fixtures configured to fail.
var ErrBoom = errors.New("boom")

// === Environment ===

// Weather is an environment fixture.
type Weather struct {
	sim.EnvironmentBase
	Temperature float64
	journal     *Journal
}

func NewWeather(rt *sim.Runtime, j *Journal, interval time.Duration) (*Weather, error) {
	w := &Weather{journal: j}
	if err := w.InitEnvironment(rt, w, "weather", interval); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Weather) Simulate() error {
	w.journal.add(w)
	w.Temperature++
	return w.EnvironmentBase.Simulate()
}

// === Agent ===

// Probe is an agent fixture. Its subtype is configurable so tests can build
// several kinds.
type Probe struct {
	sim.AgentBase
	Visits     int
	Required   []string     `json:"-"`
	Fail       bool         `json:"-"`
	Peers      []string     `json:"-"` // filled by Rehydrate from the "peers" relation
	OnSimulate func() error `json:"-"`
	journal    *Journal
}

func NewProbe(rt *sim.Runtime, j *Journal, subtype string) (*Probe, error) {
	p := &Probe{journal: j}
	if err := p.InitAgent(rt, p, subtype); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Probe) RequiredObjects() []string { return p.Required }

func (p *Probe) Simulate() error {
	p.journal.add(p)
	if p.Fail {
		return ErrBoom
	}
	if p.OnSimulate != nil {
		if err := p.OnSimulate(); err != nil {
			return err
		}
	}
	p.Visits++
	return p.AgentBase.Simulate()
}

func (p *Probe) Rehydrate(r sim.Resolver) error {
	p.Peers = nil
	for _, peer := range p.Associated("peers") {
		p.Peers = append(p.Peers, peer.ID())
	}
	return nil
}

// === Action ===

// Counter is an action fixture: it wants to act whenever Want is set.
type Counter struct {
	sim.ActionBase
	Want    bool
	Acts    int
	OnAct   func() error `json:"-"`
	Journal *Journal     `json:"-"`
}

func NewCounter(rt *sim.Runtime, subtype string, interval time.Duration, firstTick bool) (*Counter, error) {
	c := &Counter{Want: true}
	if err := c.InitAction(rt, c, subtype, interval, firstTick); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Counter) Evaluate() (bool, error) { return c.Want, nil }

func (c *Counter) Act() error {
	c.Journal.add(c)
	c.Acts++
	if c.OnAct != nil {
		return c.OnAct()
	}
	return nil
}

// === States ===

// Gauge is a passive state fixture.
type Gauge struct {
	sim.StateBase
	Value     float64
	FailStart bool `json:"-"`
}

func NewGauge(rt *sim.Runtime, subtype string) (*Gauge, error) {
	g := &Gauge{}
	if err := g.InitState(rt, g, subtype, 0); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gauge) BeforeStart() error {
	if g.FailStart {
		return ErrBoom
	}
	return nil
}

// Decay is an active state fixture halving its value on each update.
type Decay struct {
	sim.StateBase
	Value   float64
	Updates int
	Frozen  bool
	Journal *Journal `json:"-"`
}

func NewDecay(rt *sim.Runtime, interval time.Duration) (*Decay, error) {
	d := &Decay{Value: 1}
	if err := d.InitState(rt, d, "decay", interval); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decay) ShouldUpdate() bool { return !d.Frozen }

func (d *Decay) Update() error {
	d.Journal.add(d)
	d.Updates++
	d.Value /= 2
	return nil
}

// === Effects ===

// Pulse is an active effect fixture.
type Pulse struct {
	sim.EffectBase
	Applied int
	Journal *Journal `json:"-"`
}

func NewPulse(rt *sim.Runtime, interval, duration time.Duration) (*Pulse, error) {
	p := &Pulse{}
	if err := p.InitEffect(rt, p, "pulse", interval); err != nil {
		return nil, err
	}
	p.SetDuration(duration)
	return p, nil
}

func (p *Pulse) Apply() error {
	p.Journal.add(p)
	p.Applied++
	return nil
}

// Coupon is a passive effect fixture with an application window.
type Coupon struct {
	sim.EffectBase
}

func NewCoupon(rt *sim.Runtime, from, until time.Time) (*Coupon, error) {
	c := &Coupon{}
	if err := c.InitEffect(rt, c, "coupon", time.Hour); err != nil {
		return nil, err
	}
	c.SetWindow(from, until)
	return c, nil
}

// === Event ===

// Alarm is an event fixture.
type Alarm struct {
	sim.EventBase
	Fired   int
	Armed   bool
	Journal *Journal `json:"-"`
}

func NewAlarm(rt *sim.Runtime, at time.Time) (*Alarm, error) {
	a := &Alarm{Armed: true}
	if err := a.InitEvent(rt, a, "alarm", at); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Alarm) ShouldStart() bool { return a.Armed }

func (a *Alarm) Apply() error {
	a.Journal.add(a)
	a.Fired++
	return nil
}

// === Metric ===

// VisitsMetric samples a Probe's visit count.
type VisitsMetric struct {
	sim.MetricBase
	Journal *Journal `json:"-"`
}

func NewVisitsMetric(rt *sim.Runtime, cfg sim.MetricConfig) (*VisitsMetric, error) {
	m := &VisitsMetric{}
	if err := m.InitMetric(rt, m, "visits", cfg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VisitsMetric) Columns() []string { return []string{"visits"} }

func (m *VisitsMetric) Calculate() ([]float64, error) {
	m.Journal.add(m)
	p, ok := m.Subject().(*Probe)
	if !ok {
		return nil, fmt.Errorf("visits metric attached to %T", m.Subject())
	}
	return []float64{float64(p.Visits)}, nil
}

// Catalog registers every fixture type. Probe subtypes must be listed.
func Catalog(probeSubtypes ...string) *sim.Catalog {
	cat := sim.NewCatalog()
	cat.MustRegister("weather", func() sim.Object { return &Weather{} })
	for _, s := range probeSubtypes {
		cat.MustRegister(s, func() sim.Object { return &Probe{} })
	}
	cat.MustRegister("counter", func() sim.Object { return &Counter{} })
	cat.MustRegister("gauge", func() sim.Object { return &Gauge{} })
	cat.MustRegister("decay", func() sim.Object { return &Decay{} })
	cat.MustRegister("pulse", func() sim.Object { return &Pulse{} })
	cat.MustRegister("coupon", func() sim.Object { return &Coupon{} })
	cat.MustRegister("alarm", func() sim.Object { return &Alarm{} })
	cat.MustRegister("visits", func() sim.Object { return &VisitsMetric{} })
	return cat
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
