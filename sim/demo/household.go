package demo

import (
	"fmt"
	"time"

	"github.com/inference-sim/simkernel/sim"
)

// Household earns income into its wallet and spends it at its favorite stores.
type Household struct {
	sim.AgentBase
	Purchases int64
	Spent     float64
	market    *Market
}

// NewHousehold creates a household with a wallet, a daily income of the given
// amount and a shopping action.
func NewHousehold(rt *sim.Runtime, market *Market, income float64) (*Household, error) {
	h := &Household{market: market}
	if err := h.InitAgent(rt, h, SubtypeHousehold); err != nil {
		return nil, err
	}
	h.SetSimulationInterval(time.Hour)

	w, err := NewWallet(rt, 0)
	if err != nil {
		return nil, err
	}
	inc, err := NewIncome(rt, income)
	if err != nil {
		return nil, err
	}
	shop, err := NewShop(rt)
	if err != nil {
		return nil, err
	}
	for _, obj := range []sim.Object{w, inc, shop} {
		if err := h.Own(obj); err != nil {
			return nil, err
		}
	}
	if err := h.Associate(MarketRelation, market); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Household) RequiredObjects() []string {
	return []string{SubtypeWallet, SubtypeIncome, SubtypeShop}
}

func (h *Household) Wallet() *Wallet {
	w, _ := h.State(SubtypeWallet).(*Wallet)
	return w
}

func (h *Household) Market() *Market { return h.market }

func (h *Household) Rehydrate(sim.Resolver) error {
	h.market = nil
	for _, obj := range h.Associated(MarketRelation) {
		m, ok := obj.(*Market)
		if !ok {
			return fmt.Errorf("household %s: market relation holds %T", h.ID(), obj)
		}
		h.market = m
	}
	return nil
}

// Wallet is the household's cash balance.
type Wallet struct {
	sim.StateBase
	Balance float64
}

func NewWallet(rt *sim.Runtime, balance float64) (*Wallet, error) {
	w := &Wallet{Balance: balance}
	if err := w.InitState(rt, w, SubtypeWallet, 0); err != nil {
		return nil, err
	}
	return w, nil
}

// Income pays Amount into the owner's wallet once a day.
type Income struct {
	sim.EffectBase
	Amount float64
}

func NewIncome(rt *sim.Runtime, amount float64) (*Income, error) {
	inc := &Income{Amount: amount}
	if err := inc.InitEffect(rt, inc, SubtypeIncome, 24*time.Hour); err != nil {
		return nil, err
	}
	return inc, nil
}

func (inc *Income) Apply() error {
	h, ok := inc.Subject().(*Household)
	if !ok {
		return fmt.Errorf("income %s owned by %T", inc.ID(), inc.Subject())
	}
	w := h.Wallet()
	if w == nil {
		return fmt.Errorf("household %s has no wallet", h.ID())
	}
	w.Balance += inc.Amount
	return nil
}

// Shop buys one unit from a random favorite store that has stock, when the
// wallet covers the price.
type Shop struct {
	sim.ActionBase
	// Misses counts attempts that found no affordable stock.
	Misses int64
}

func NewShop(rt *sim.Runtime) (*Shop, error) {
	s := &Shop{}
	if err := s.InitAction(rt, s, SubtypeShop, 12*time.Hour, false); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shop) household() (*Household, error) {
	h, ok := s.Subject().(*Household)
	if !ok {
		return nil, fmt.Errorf("shop %s owned by %T", s.ID(), s.Subject())
	}
	return h, nil
}

func (s *Shop) Evaluate() (bool, error) {
	h, err := s.household()
	if err != nil {
		return false, err
	}
	w := h.Wallet()
	return w != nil && w.Balance > 0 && h.market != nil && len(h.Associated(FavoriteStores)) > 0, nil
}

func (s *Shop) Act() error {
	h, err := s.household()
	if err != nil {
		return err
	}
	var stocked []*Store
	for _, obj := range h.Associated(FavoriteStores) {
		st, ok := obj.(*Store)
		if ok && !st.Paused() && st.Inventory() != nil && st.Inventory().Units > 0 {
			stocked = append(stocked, st)
		}
	}
	if len(stocked) == 0 {
		s.Misses++
		return nil
	}
	st := stocked[s.Runtime().Rand().IntN(len(stocked))]
	price := h.market.Price(st.BasePrice)
	w := h.Wallet()
	if w.Balance < price {
		s.Misses++
		return nil
	}
	w.Balance -= price
	st.Sell(price)
	h.market.Sales++
	h.Purchases++
	h.Spent += price
	return nil
}
