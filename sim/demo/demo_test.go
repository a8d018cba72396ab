package demo_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/config"
	"github.com/inference-sim/simkernel/sim/demo"
	"github.com/inference-sim/simkernel/sim/internal/testutil"
	"github.com/inference-sim/simkernel/sim/snapshot"
)

func smallDemo() config.DemoConfig {
	cfg := config.Default().Demo
	cfg.Households, cfg.Stores, cfg.FavoritesPerHousehold, cfg.PriceShockDay = 5, 2, 2, 3
	return cfg
}

func encode(t *testing.T, o *sim.Orchestrator) string {
	t.Helper()
	img, err := sim.EncodeRegistry(o.Registry())
	require.NoError(t, err)
	b, err := json.Marshal(img)
	require.NoError(t, err)
	return string(b)
}

func TestBuild_CreatesPopulation(t *testing.T) {
	// GIVEN a kernel
	o := testutil.NewKernel(t, sim.Options{MetricSink: &testutil.RecordingSink{}})

	// WHEN the demo is built
	pop, err := demo.Build(o.Runtime(), smallDemo(), testutil.Epoch)

	// THEN every role holds the expected objects
	require.NoError(t, err)
	reg := o.Registry()
	assert.Equal(t, 1, reg.Count(sim.RoleEnvironment))
	assert.Equal(t, 7, reg.Count(sim.RoleAgent))
	assert.Equal(t, 1, reg.Count(sim.RoleEvent))
	assert.Equal(t, 1, reg.Count(sim.RoleMetric))
	assert.Equal(t, 5+2, reg.Count(sim.RoleState))
	assert.Equal(t, 5, reg.Count(sim.RoleEffect))
	assert.Equal(t, 5+2, reg.Count(sim.RoleAction))
	for _, h := range pop.Households {
		assert.True(t, h.Started())
		assert.Len(t, h.Associated(demo.FavoriteStores), 2)
		assert.Same(t, pop.Market, h.Market())
	}
	assert.Same(t, pop.Households[0], pop.Metrics[0].Subject())
	assert.Equal(t, testutil.Epoch.Add(72*time.Hour), pop.Shock.StartTime())
}

func TestBuild_SameSeedSamePopulation(t *testing.T) {
	a := testutil.NewKernel(t, sim.Options{Seed: 7})
	b := testutil.NewKernel(t, sim.Options{Seed: 7})
	_, err := demo.Build(a.Runtime(), smallDemo(), testutil.Epoch)
	require.NoError(t, err)
	_, err = demo.Build(b.Runtime(), smallDemo(), testutil.Epoch)
	require.NoError(t, err)

	assert.Equal(t, encode(t, a), encode(t, b))
}

func TestBuild_RejectsBadDistribution(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	cfg := smallDemo()
	cfg.Income = config.DistSpec{Type: "zipf"}

	_, err := demo.Build(o.Runtime(), cfg, testutil.Epoch)

	assert.ErrorContains(t, err, "demo.income")
	assert.True(t, o.Registry().IsEmpty())
}

func TestBuild_FavoritesCappedByStoreCount(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	cfg := smallDemo()
	cfg.Stores = 1
	cfg.FavoritesPerHousehold = 3

	pop, err := demo.Build(o.Runtime(), cfg, testutil.Epoch)

	require.NoError(t, err)
	for _, h := range pop.Households {
		assert.Len(t, h.Associated(demo.FavoriteStores), 1)
	}
}

func TestRun_MoneyAndGoodsBalance(t *testing.T) {
	// GIVEN a built marketplace
	o := testutil.NewKernel(t, sim.Options{MetricSink: &testutil.RecordingSink{}})
	pop, err := demo.Build(o.Runtime(), smallDemo(), testutil.Epoch)
	require.NoError(t, err)

	// WHEN it runs for five days
	require.NoError(t, o.ProgressBy(5*24*time.Hour))

	// THEN every purchase is matched by a store sale and nobody is overdrawn
	var purchases, sales int64
	var spent, revenue float64
	for _, h := range pop.Households {
		purchases += h.Purchases
		spent += h.Spent
		assert.GreaterOrEqual(t, h.Wallet().Balance, 0.0)
	}
	for _, st := range pop.Stores {
		sales += st.Sales
		revenue += st.Revenue
		inv := st.Inventory()
		assert.GreaterOrEqual(t, inv.Units, 0)
		assert.LessOrEqual(t, inv.Units, inv.Capacity)
	}
	assert.Positive(t, purchases)
	assert.Equal(t, purchases, sales)
	assert.Equal(t, purchases, pop.Market.Sales)
	testutil.AssertFloat64Equal(t, "revenue", spent, revenue, 1e-9)
}

func TestPriceShock_AppliesOnceAtStartTime(t *testing.T) {
	// GIVEN a market without drift and a shock one day in
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	m, err := demo.NewMarket(rt, 0)
	require.NoError(t, err)
	shock, err := demo.NewPriceShock(rt, m, testutil.Epoch.Add(24*time.Hour), 1.25)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	require.NoError(t, shock.Start())

	// WHEN the clock reaches the start time
	require.NoError(t, o.ProgressBy(24*time.Hour))
	assert.Equal(t, 1.0, m.PriceIndex)
	require.NoError(t, o.ProgressBy(2*time.Hour))

	// THEN the index moved exactly once and the event is gone
	assert.Equal(t, 1.25, m.PriceIndex)
	assert.True(t, shock.Destroyed())
	assert.Zero(t, o.Registry().Count(sim.RoleEvent))
}

func TestPriceShock_WaitsForPausedMarket(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	m, _ := demo.NewMarket(rt, 0)
	shock, _ := demo.NewPriceShock(rt, m, testutil.Epoch, 2)
	require.NoError(t, m.Start())
	require.NoError(t, shock.Start())
	require.NoError(t, m.Pause())

	require.NoError(t, o.ProgressBy(3*time.Hour))
	assert.Equal(t, 1.0, m.PriceIndex)

	require.NoError(t, m.Unpause())
	require.NoError(t, o.ProgressBy(time.Hour))
	assert.Equal(t, 2.0, m.PriceIndex)
}

func TestIncome_PaysOncePerDay(t *testing.T) {
	// GIVEN a household with no favorite stores
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	m, _ := demo.NewMarket(rt, 0)
	h, err := demo.NewHousehold(rt, m, 10)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	require.NoError(t, h.Start())

	// WHEN 25 hours pass
	require.NoError(t, o.ProgressBy(25*time.Hour))

	// THEN income was paid on the first tick and a day later
	assert.Equal(t, 20.0, h.Wallet().Balance)
	assert.Zero(t, h.Purchases)
}

func TestShop_MissesWhenUnaffordable(t *testing.T) {
	o := testutil.NewKernel(t, sim.Options{})
	rt := o.Runtime()
	m, _ := demo.NewMarket(rt, 0)
	st, err := demo.NewStore(rt, 1000, 4)
	require.NoError(t, err)
	h, _ := demo.NewHousehold(rt, m, 10)
	require.NoError(t, h.Associate(demo.FavoriteStores, st))
	for _, obj := range []sim.Object{m, st, h} {
		require.NoError(t, obj.Start())
	}

	require.NoError(t, o.ProgressBy(24*time.Hour))

	shop := h.Action(demo.SubtypeShop).(*demo.Shop)
	assert.Positive(t, shop.Misses)
	assert.Zero(t, h.Purchases)
	assert.Equal(t, 4, st.Inventory().Units)
}

func TestRestock_RefillsAtReorderPoint(t *testing.T) {
	// GIVEN a store of capacity 8 (reorder at 2, batch of 4) down to one unit
	o := testutil.NewKernel(t, sim.Options{})
	st, err := demo.NewStore(o.Runtime(), 1, 8)
	require.NoError(t, err)
	require.NoError(t, st.Start())
	st.Inventory().Units = 1

	// WHEN the restock action gets its turn
	require.NoError(t, o.ProgressBy(12*time.Hour))

	// THEN one batch arrived
	r := st.Action(demo.SubtypeRestock).(*demo.Restock)
	assert.Equal(t, 5, st.Inventory().Units)
	assert.Equal(t, int64(1), r.Restocks)
}

func TestWalletMetric_AverageSpendIsZeroWithoutPurchases(t *testing.T) {
	sink := &testutil.RecordingSink{}
	o := testutil.NewKernel(t, sim.Options{MetricSink: sink})
	rt := o.Runtime()
	m, _ := demo.NewMarket(rt, 0)
	h, _ := demo.NewHousehold(rt, m, 10)
	require.NoError(t, m.Start())
	require.NoError(t, h.Start())
	metric, err := demo.NewWalletMetric(rt, sim.DefaultMetricConfig())
	require.NoError(t, err)
	require.NoError(t, metric.Attach(h))

	require.NoError(t, o.ProgressBy(time.Hour))
	vals, err := metric.Calculate()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 0, 0, 0}, vals)

	h.Purchases, h.Spent = 4, 10
	vals, err = metric.Calculate()
	require.NoError(t, err)
	assert.Equal(t, 2.5, vals[3])
}

func TestSnapshot_DemoResumesIdentically(t *testing.T) {
	// GIVEN a demo run saved after 30 hours
	cfg := config.Default()
	cfg.Simulation.EndTime = ""
	cfg.Simulation.RandomSeed = 3
	cfg.Demo = smallDemo()
	cfg.EnsureExperimentID()
	build := func(cfg *config.Config) (*sim.Orchestrator, error) {
		start, err := cfg.StartTime()
		if err != nil {
			return nil, err
		}
		return sim.New(sim.Options{
			Start:        start,
			TickInterval: cfg.TickInterval(),
			Seed:         cfg.Simulation.RandomSeed,
			MetricSink:   &testutil.RecordingSink{},
		})
	}
	src, err := build(cfg)
	require.NoError(t, err)
	start, _ := cfg.StartTime()
	_, err = demo.Build(src.Runtime(), cfg.Demo, start)
	require.NoError(t, err)
	require.NoError(t, src.ProgressBy(30*time.Hour))
	dir, err := snapshot.Save(context.Background(), t.TempDir(), cfg, src)
	require.NoError(t, err)

	// WHEN loaded
	dst, _, err := snapshot.Load(context.Background(), dir, demo.Catalog(), build)
	require.NoError(t, err)
	assert.Equal(t, encode(t, src), encode(t, dst))

	// THEN both kernels evolve identically through the price shock
	src.Registry().ResetRotation()
	require.NoError(t, src.ProgressBy(48*time.Hour))
	require.NoError(t, dst.ProgressBy(48*time.Hour))
	assert.Equal(t, encode(t, src), encode(t, dst))
	assert.Zero(t, dst.Registry().Count(sim.RoleEvent))
}
