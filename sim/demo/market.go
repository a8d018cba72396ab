package demo

import (
	"fmt"
	"time"

	"github.com/inference-sim/simkernel/sim"
)

// Market is the shared price level. It takes a small random walk every hour.
type Market struct {
	sim.EnvironmentBase
	PriceIndex float64
	Volatility float64
	// Sales counts purchases since the market was created.
	Sales int64
}

func NewMarket(rt *sim.Runtime, volatility float64) (*Market, error) {
	m := &Market{PriceIndex: 1, Volatility: volatility}
	if err := m.InitEnvironment(rt, m, SubtypeMarket, time.Hour); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Market) Simulate() error {
	step := 1 + m.Volatility*m.Runtime().Rand().NormFloat64()
	if step > 0 {
		m.PriceIndex *= step
	}
	return m.EnvironmentBase.Simulate()
}

// Price converts a base price to the current price level.
func (m *Market) Price(base float64) float64 {
	return base * m.PriceIndex
}

// PriceShock multiplies the market price index once, at its start time.
type PriceShock struct {
	sim.EventBase
	Factor float64
	Target sim.Ref
	market *Market
}

func NewPriceShock(rt *sim.Runtime, market *Market, at time.Time, factor float64) (*PriceShock, error) {
	p := &PriceShock{Factor: factor, Target: sim.RefOf(market), market: market}
	if err := p.InitEvent(rt, p, SubtypePriceShock, at); err != nil {
		return nil, err
	}
	return p, nil
}

// ShouldStart holds the shock while its market is gone or paused.
func (p *PriceShock) ShouldStart() bool {
	return p.market != nil && !p.market.Destroyed() && !p.market.Paused()
}

func (p *PriceShock) Apply() error {
	p.market.PriceIndex *= p.Factor
	return nil
}

func (p *PriceShock) Rehydrate(r sim.Resolver) error {
	obj, err := r.Resolve(p.Target)
	if err != nil {
		return err
	}
	m, ok := obj.(*Market)
	if !ok {
		return fmt.Errorf("price shock target %s is %T", p.Target.ID, obj)
	}
	p.market = m
	return nil
}
