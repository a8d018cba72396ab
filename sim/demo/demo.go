// Package demo is a small marketplace built on the kernel: households earn income,
// keep a wallet and shop at their favorite stores; stores restock their inventory;
// a market environment drifts the price level and a one-off price shock moves it.
//
// The formulas are illustrative. The package exists to exercise every role of the
// kernel end to end, including snapshot and rehydration.
package demo

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/config"
)

// Subtypes.
const (
	SubtypeMarket       = "market"
	SubtypeHousehold    = "household"
	SubtypeStore        = "store"
	SubtypeWallet       = "wallet"
	SubtypeIncome       = "income"
	SubtypeShop         = "shop"
	SubtypeInventory    = "inventory"
	SubtypeRestock      = "restock"
	SubtypePriceShock   = "price_shock"
	SubtypeWalletMetric = "wallet_metric"
)

// Association names.
const (
	FavoriteStores = "favorite_stores"
	MarketRelation = "market"
)

// Register adds a blank-instance factory for every demo subtype.
func Register(cat *sim.Catalog) error {
	factories := map[string]sim.Factory{
		SubtypeMarket:       func() sim.Object { return &Market{} },
		SubtypeHousehold:    func() sim.Object { return &Household{} },
		SubtypeStore:        func() sim.Object { return &Store{} },
		SubtypeWallet:       func() sim.Object { return &Wallet{} },
		SubtypeIncome:       func() sim.Object { return &Income{} },
		SubtypeShop:         func() sim.Object { return &Shop{} },
		SubtypeInventory:    func() sim.Object { return &Inventory{} },
		SubtypeRestock:      func() sim.Object { return &Restock{} },
		SubtypePriceShock:   func() sim.Object { return &PriceShock{} },
		SubtypeWalletMetric: func() sim.Object { return &WalletMetric{} },
	}
	for _, subtype := range []string{
		SubtypeMarket, SubtypeHousehold, SubtypeStore, SubtypeWallet, SubtypeIncome,
		SubtypeShop, SubtypeInventory, SubtypeRestock, SubtypePriceShock, SubtypeWalletMetric,
	} {
		if err := cat.Register(subtype, factories[subtype]); err != nil {
			return err
		}
	}
	return nil
}

// Catalog returns a catalog holding only the demo subtypes.
func Catalog() *sim.Catalog {
	cat := sim.NewCatalog()
	if err := Register(cat); err != nil {
		panic(err)
	}
	return cat
}

// Population is what Build created.
type Population struct {
	Market     *Market
	Stores     []*Store
	Households []*Household
	Shock      *PriceShock
	Metrics    []*WalletMetric
}

// Build creates and starts a marketplace sized by cfg. Random draws come from the
// runtime's domain stream, so the same seed builds the same population.
func Build(rt *sim.Runtime, cfg config.DemoConfig, start time.Time) (*Population, error) {
	rng := rt.Rand()
	pop := &Population{}
	incomes, err := NewSampler(cfg.Income)
	if err != nil {
		return nil, fmt.Errorf("demo.income: %w", err)
	}
	prices, err := NewSampler(cfg.BasePrice)
	if err != nil {
		return nil, fmt.Errorf("demo.base_price: %w", err)
	}

	market, err := NewMarket(rt, 0.002)
	if err != nil {
		return nil, err
	}
	pop.Market = market

	for i := 0; i < cfg.Stores; i++ {
		st, err := NewStore(rt, prices.Sample(rng), 50)
		if err != nil {
			return nil, err
		}
		pop.Stores = append(pop.Stores, st)
	}

	for i := 0; i < cfg.Households; i++ {
		h, err := NewHousehold(rt, market, incomes.Sample(rng))
		if err != nil {
			return nil, err
		}
		picks := cfg.FavoritesPerHousehold
		if picks > len(pop.Stores) {
			picks = len(pop.Stores)
		}
		for _, idx := range rng.Perm(len(pop.Stores))[:picks] {
			if err := h.Associate(FavoriteStores, pop.Stores[idx]); err != nil {
				return nil, err
			}
		}
		pop.Households = append(pop.Households, h)
	}

	if cfg.PriceShockDay > 0 {
		shock, err := NewPriceShock(rt, market, start.Add(time.Duration(cfg.PriceShockDay)*24*time.Hour), 1.25)
		if err != nil {
			return nil, err
		}
		pop.Shock = shock
	}

	if err := market.Start(); err != nil {
		return nil, err
	}
	for _, st := range pop.Stores {
		if err := st.Start(); err != nil {
			return nil, err
		}
	}
	for _, h := range pop.Households {
		if err := h.Start(); err != nil {
			return nil, err
		}
	}
	if pop.Shock != nil {
		if err := pop.Shock.Start(); err != nil {
			return nil, err
		}
	}
	if len(pop.Households) > 0 {
		m, err := NewWalletMetric(rt, sim.DefaultMetricConfig())
		if err != nil {
			return nil, err
		}
		if err := m.Attach(pop.Households[0]); err != nil {
			return nil, fmt.Errorf("attach wallet metric: %w", err)
		}
		pop.Metrics = append(pop.Metrics, m)
	}

	logrus.WithFields(logrus.Fields{
		"households": len(pop.Households),
		"stores":     len(pop.Stores),
		"shock":      pop.Shock != nil,
	}).Info("Demo marketplace built")
	return pop, nil
}
