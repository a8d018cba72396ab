package demo

import (
	"fmt"

	"github.com/inference-sim/simkernel/sim"
)

// WalletMetric samples a household's finances.
type WalletMetric struct {
	sim.MetricBase
}

func NewWalletMetric(rt *sim.Runtime, cfg sim.MetricConfig) (*WalletMetric, error) {
	m := &WalletMetric{}
	if err := m.InitMetric(rt, m, SubtypeWalletMetric, cfg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *WalletMetric) Columns() []string {
	return []string{"balance", "purchases", "spent", "avg_spend"}
}

func (m *WalletMetric) Calculate() ([]float64, error) {
	h, ok := m.Subject().(*Household)
	if !ok {
		return nil, fmt.Errorf("wallet metric attached to %T", m.Subject())
	}
	var balance float64
	if w := h.Wallet(); w != nil {
		balance = w.Balance
	}
	return []float64{balance, float64(h.Purchases), h.Spent, avgSpend(h.Spent, h.Purchases)}, nil
}

// avgSpend returns zero when nothing was bought.
func avgSpend(spent float64, purchases int64) float64 {
	if purchases == 0 {
		return 0
	}
	return spent / float64(purchases)
}
