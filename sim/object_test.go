package sim_test

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/internal/testutil"
)

func TestObject_ConstructedPausedAndRegistered(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	p, err := testutil.NewProbe(o.Runtime(), nil, "probe")
	require.NoError(t, err)

	assert.True(t, p.Paused())
	assert.False(t, p.Started())
	got, ok := o.Registry().Get(sim.RoleAgent, p.ID())
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Contains(t, p.ID(), "agent_")
}

func TestObject_StartExactlyOnce(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	p, err := testutil.NewProbe(o.Runtime(), nil, "probe")
	require.NoError(t, err)

	require.NoError(t, p.Start())
	assert.False(t, p.Paused())

	err = p.Start()
	assert.ErrorIs(t, err, sim.ErrAlreadyStarted)
}

func TestObject_PausedTickIsNoop(t *testing.T) {
	// GIVEN a started then paused agent
	o := testutil.NewKernel(t, sim.Options{})
	p, err := testutil.NewProbe(o.Runtime(), nil, "probe")
	require.NoError(t, err)
	require.NoError(t, p.Start())
	require.NoError(t, p.Pause())

	// WHEN ticked
	require.NoError(t, p.Tick())

	// THEN nothing was counted
	assert.Equal(t, int64(0), p.TickCount())
	assert.Equal(t, int64(0), p.SimulationCount())
	assert.Equal(t, 0, p.Visits)
}

func TestIndependent_ValidateRequiresDeclaredSubObjects(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, err := testutil.NewProbe(rt, nil, "probe")
	require.NoError(t, err)
	p.Required = []string{"gauge", "shop"}

	err = p.Start()
	require.ErrorIs(t, err, sim.ErrMissingRequired)
	assert.False(t, p.Started())

	g, err := testutil.NewGauge(rt, "gauge")
	require.NoError(t, err)
	require.NoError(t, p.Own(g))
	c, err := testutil.NewCounter(rt, "shop", time.Hour, true)
	require.NoError(t, err)
	require.NoError(t, p.Own(c))

	assert.NoError(t, p.Start())
}

func TestDependent_StartWithoutSubjectFails(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	g, err := testutil.NewGauge(o.Runtime(), "gauge")
	require.NoError(t, err)

	assert.ErrorIs(t, g.Start(), sim.ErrNoSubject)
}

func TestMetric_StartWithoutSubjectFails(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	m, err := testutil.NewVisitsMetric(o.Runtime(), sim.DefaultMetricConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, m.Start(), sim.ErrNotAttached)
}

func TestIndependent_OwnDuplicateSubtypeFails(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	g1, _ := testutil.NewGauge(rt, "gauge")
	g2, _ := testutil.NewGauge(rt, "gauge")

	require.NoError(t, p.Own(g1))
	assert.ErrorIs(t, p.Own(g2), sim.ErrDuplicateSubtype)
	assert.Same(t, g1, p.State("gauge"))
}

func TestIndependent_OwnReleasesDependentThatFailsToStart(t *testing.T) {
	// GIVEN an agent that requires a gauge whose start hook fails
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	p.Required = []string{"gauge"}
	g, _ := testutil.NewGauge(rt, "gauge")
	g.FailStart = true

	// WHEN the agent takes ownership
	err := p.Own(g)

	// THEN the gauge is released and the agent is still missing it
	assert.ErrorIs(t, err, testutil.ErrBoom)
	assert.False(t, p.Has("gauge"))
	assert.Nil(t, g.Subject())
	assert.ErrorIs(t, p.Validate(), sim.ErrMissingRequired)
}

func TestIndependent_OwnRejectsIndependentObjects(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	a, _ := testutil.NewProbe(o.Runtime(), nil, "probe")
	b, _ := testutil.NewProbe(o.Runtime(), nil, "probe")
	assert.Error(t, a.Own(b))
}

func TestDependent_PausesInLockstepWithSubject(t *testing.T) {
	// GIVEN an unstarted agent owning a gauge
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	g, _ := testutil.NewGauge(rt, "gauge")
	require.NoError(t, p.Own(g))

	// THEN the owned gauge is started but waits for its subject
	assert.True(t, g.Started())
	assert.True(t, g.Paused())

	// WHEN the subject starts, pauses and unpauses
	require.NoError(t, p.Start())
	assert.False(t, g.Paused())
	require.NoError(t, p.Pause())
	assert.True(t, g.Paused())
	require.NoError(t, p.Unpause())
	assert.False(t, g.Paused())
}

func TestActionScenario_DailyActionOnHourlyTicks(t *testing.T) {
	// GIVEN a 1h tick and a 24h action, eligible on the first tick, owned by a started agent
	o := testutil.NewKernel(t, sim.Options{TickInterval: time.Hour})
	rt := o.Runtime()
	p, err := testutil.NewProbe(rt, nil, "probe")
	require.NoError(t, err)
	p.SetSimulateOnFirstTick(true)
	c, err := testutil.NewCounter(rt, "counter", 24*time.Hour, true)
	require.NoError(t, err)
	require.NoError(t, p.Own(c))
	require.NoError(t, p.Start())
	assert.Equal(t, int64(24), c.SimulationIntervalTicks())

	// WHEN ticking 1..25
	for tick := 1; tick <= 25; tick++ {
		require.NoError(t, o.Tick())
		switch {
		case tick <= 24:
			// THEN the action simulated exactly once through tick 24
			require.Equal(t, int64(1), c.SimulationCount(), "after tick %d", tick)
		default:
			// THEN the second simulation happens on tick 25
			require.Equal(t, int64(2), c.SimulationCount(), "after tick %d", tick)
		}
	}
	assert.Equal(t, 2, c.Acts)
	assert.Equal(t, int64(25), c.TickCount())
}

func TestAction_ActsOnlyWhenEvaluationSaysSo(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	c, _ := testutil.NewCounter(rt, "counter", time.Hour, true)
	c.Want = false
	require.NoError(t, p.Own(c))
	require.NoError(t, p.Start())

	require.NoError(t, o.ProgressBy(3*time.Hour))
	assert.Equal(t, 0, c.Acts)
	assert.Equal(t, int64(3), c.SimulationCount())

	c.Want = true
	require.NoError(t, o.Tick())
	assert.Equal(t, 1, c.Acts)
	assert.False(t, c.ShouldAct(), "request is cleared after acting")
	since, ok := c.SinceLastAct()
	assert.True(t, ok)
	assert.Equal(t, time.Hour, since, "the clock advanced once since acting")
}

func TestState_ActiveAndPassive(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	g, _ := testutil.NewGauge(rt, "gauge")
	d, _ := testutil.NewDecay(rt, 2*time.Hour)
	require.NoError(t, p.Own(g))
	require.NoError(t, p.Own(d))
	require.NoError(t, p.Start())

	assert.False(t, g.Active())
	assert.True(t, d.Active())

	require.NoError(t, o.ProgressBy(5*time.Hour))
	// not first-tick eligible: updates on ticks 3 and 5
	assert.Equal(t, 2, d.Updates)
	assert.InDelta(t, 0.25, d.Value, 1e-12)

	d.Frozen = true
	require.NoError(t, o.ProgressBy(4*time.Hour))
	assert.Equal(t, 2, d.Updates, "ShouldUpdate=false skips updates")
}

func TestEffect_DurationSelfDestructs(t *testing.T) {
	// GIVEN an hourly pulse lasting 3h owned by a started agent
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	require.NoError(t, p.Start())
	pulse, err := testutil.NewPulse(rt, time.Hour, 3*time.Hour)
	require.NoError(t, err)
	require.NoError(t, p.Own(pulse))
	assert.Equal(t, testutil.Epoch.Add(3*time.Hour), pulse.EndTime())

	// WHEN time runs past the end
	require.NoError(t, o.ProgressBy(6*time.Hour))

	// THEN it applied while live, then destroyed and detached itself
	assert.Equal(t, 4, pulse.Applied) // 00:00, 01:00, 02:00, 03:00
	assert.True(t, pulse.Destroyed())
	assert.Nil(t, p.Effect("pulse"))
	_, ok := o.Lookup(pulse.ID())
	assert.False(t, ok)
}

func TestEffect_PassiveWindow(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	require.NoError(t, p.Start())
	coupon, err := testutil.NewCoupon(rt, testutil.Epoch.Add(time.Hour), testutil.Epoch.Add(3*time.Hour))
	require.NoError(t, err)
	require.NoError(t, p.Own(coupon))

	var open []bool
	for i := 0; i < 4; i++ {
		open = append(open, coupon.CanApply())
		require.NoError(t, o.Tick())
	}
	// window is exclusive at both ends
	assert.Equal(t, []bool{false, false, true, false}, open)
}

func TestEvent_FiresOnceAtStartTimeThenDestroys(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	alarm, err := testutil.NewAlarm(o.Runtime(), testutil.Epoch.Add(2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, alarm.Start())

	require.NoError(t, o.ProgressBy(2*time.Hour))
	assert.Equal(t, 0, alarm.Fired)

	require.NoError(t, o.Tick())
	assert.Equal(t, 1, alarm.Fired)
	assert.True(t, alarm.Destroyed())
	assert.Equal(t, 0, o.Registry().Count(sim.RoleEvent))
}

func TestEvent_ShouldStartGuard(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	alarm, _ := testutil.NewAlarm(o.Runtime(), testutil.Epoch)
	alarm.Armed = false
	require.NoError(t, alarm.Start())

	require.NoError(t, o.ProgressBy(3*time.Hour))
	assert.Equal(t, 0, alarm.Fired)
	assert.False(t, alarm.Destroyed())

	alarm.Armed = true
	require.NoError(t, o.Tick())
	assert.Equal(t, 1, alarm.Fired)
}

func TestDestroy_CascadesToOwnedAndDetachesMetric(t *testing.T) {
	// GIVEN an agent with a state, an action, an effect, a metric and a peer association
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	g, _ := testutil.NewGauge(rt, "gauge")
	c, _ := testutil.NewCounter(rt, "counter", time.Hour, true)
	pulse, _ := testutil.NewPulse(rt, time.Hour, 0)
	for _, dep := range []sim.Object{g, c, pulse} {
		require.NoError(t, p.Own(dep))
	}
	require.NoError(t, p.Start())
	m, _ := testutil.NewVisitsMetric(rt, sim.DefaultMetricConfig())
	require.NoError(t, m.Attach(p))
	other, _ := testutil.NewProbe(rt, nil, "probe")
	require.NoError(t, other.Associate("peers", p))
	before := o.Registry().Len()

	// WHEN the agent is destroyed
	p.Destroy()

	// THEN owned objects are gone, the metric survives detached, associations dropped
	for _, dep := range []sim.Object{g, c, pulse} {
		assert.True(t, dep.Destroyed(), dep.Subtype())
	}
	assert.False(t, m.Destroyed())
	assert.Nil(t, m.Subject())
	assert.Empty(t, other.Associated("peers"))
	assert.Equal(t, before-4, o.Registry().Len())
	_, ok := o.Lookup(m.ID())
	assert.True(t, ok)
}

func TestDestroy_Idempotent(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	p, _ := testutil.NewProbe(o.Runtime(), nil, "probe")
	calls := 0
	p.AddCleanup(func() error { calls++; return nil })

	p.Destroy()
	p.Destroy()

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, p.Start(), sim.ErrDestroyed)
}

func TestDestroy_CleanupFailureLoggedAndOthersRun(t *testing.T) {
	// GIVEN three cleanups, the first failing and the second cancelled
	var buf bytes.Buffer
	logrus.SetOutput(&buf)
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })

	o := testutil.NewKernel(t, sim.Options{})
	p, _ := testutil.NewProbe(o.Runtime(), nil, "probe")
	var ran []string
	p.AddCleanup(func() error { ran = append(ran, "first"); return errors.New("disk on fire") })
	cancel := p.AddCleanup(func() error { ran = append(ran, "cancelled"); return nil })
	p.AddCleanup(func() error { ran = append(ran, "third"); return nil })
	cancel()

	// WHEN destroyed
	p.Destroy()

	// THEN the failure is logged and the remaining cleanup still ran
	assert.Equal(t, []string{"first", "third"}, ran)
	assert.Contains(t, buf.String(), "disk on fire")
	assert.True(t, p.Destroyed())
}

func TestIndependent_AssociationsOrderedAndDeduplicated(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	a, _ := testutil.NewProbe(rt, nil, "probe")
	b, _ := testutil.NewProbe(rt, nil, "probe")

	require.NoError(t, p.Associate("peers", b))
	require.NoError(t, p.Associate("peers", a))
	require.NoError(t, p.Associate("peers", b))
	require.NoError(t, p.Associate("rivals", a))

	assert.Equal(t, []sim.Object{b, a}, p.Associated("peers"))
	assert.Equal(t, []string{"peers", "rivals"}, p.AssociationNames())

	assert.True(t, p.Dissociate("peers", b))
	assert.False(t, p.Dissociate("peers", b))
	b.Destroy() // its cleanup must not touch p any more
	assert.Equal(t, []sim.Object{a}, p.Associated("peers"))
}

func TestObject_NowUsesLocationAndLifetimeCountsTicks(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	p, _ := testutil.NewProbe(o.Runtime(), nil, "probe")
	require.NoError(t, p.Start())
	loc := time.FixedZone("UTC+2", 2*60*60)
	p.SetLocation(loc)

	require.NoError(t, o.ProgressBy(3*time.Hour))

	assert.Equal(t, 5, p.Now().Hour())
	assert.True(t, p.Now().Equal(testutil.Epoch.Add(3*time.Hour)))
	assert.Equal(t, 3*time.Hour, p.Lifetime())
}

func TestAddCleanup_CancelledEntriesDoNotAccumulate(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	p, _ := testutil.NewProbe(rt, nil, "probe")
	peer, _ := testutil.NewProbe(rt, nil, "probe")

	for i := 0; i < 100; i++ {
		require.NoError(t, p.Associate("peers", peer))
		require.True(t, p.Dissociate("peers", peer))
	}
	assert.Zero(t, sim.CleanupCount(peer))

	require.NoError(t, p.Associate("peers", peer))
	cancel := peer.AddCleanup(func() error { return nil })
	assert.Equal(t, 2, sim.CleanupCount(peer))
	cancel()
	cancel()
	assert.Equal(t, 1, sim.CleanupCount(peer))
}
