package demo

import (
	"time"

	"github.com/inference-sim/simkernel/sim"
)

// Store sells units from its inventory at BasePrice times the market price index.
type Store struct {
	sim.AgentBase
	BasePrice float64
	Revenue   float64
	Sales     int64
}

// NewStore creates a store with a full inventory of the given capacity and a
// restocking action.
func NewStore(rt *sim.Runtime, basePrice float64, capacity int) (*Store, error) {
	st := &Store{BasePrice: basePrice}
	if err := st.InitAgent(rt, st, SubtypeStore); err != nil {
		return nil, err
	}
	st.SetSimulationInterval(time.Hour)

	inv, err := NewInventory(rt, capacity)
	if err != nil {
		return nil, err
	}
	restock, err := NewRestock(rt, capacity/4, capacity/2)
	if err != nil {
		return nil, err
	}
	if err := st.Own(inv); err != nil {
		return nil, err
	}
	if err := st.Own(restock); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *Store) RequiredObjects() []string {
	return []string{SubtypeInventory, SubtypeRestock}
}

func (st *Store) Inventory() *Inventory {
	inv, _ := st.State(SubtypeInventory).(*Inventory)
	return inv
}

// Sell takes one unit out of stock.
func (st *Store) Sell(price float64) {
	st.Inventory().Units--
	st.Revenue += price
	st.Sales++
}

// Inventory is the stock a store holds.
type Inventory struct {
	sim.StateBase
	Units    int
	Capacity int
}

func NewInventory(rt *sim.Runtime, capacity int) (*Inventory, error) {
	inv := &Inventory{Units: capacity, Capacity: capacity}
	if err := inv.InitState(rt, inv, SubtypeInventory, 0); err != nil {
		return nil, err
	}
	return inv, nil
}

// Restock refills the inventory by Batch units once it drops to ReorderPoint.
type Restock struct {
	sim.ActionBase
	ReorderPoint int
	Batch        int
	Restocks     int64
}

func NewRestock(rt *sim.Runtime, reorderPoint, batch int) (*Restock, error) {
	r := &Restock{ReorderPoint: reorderPoint, Batch: batch}
	if err := r.InitAction(rt, r, SubtypeRestock, 6*time.Hour, false); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Restock) inventory() *Inventory {
	st, ok := r.Subject().(*Store)
	if !ok {
		return nil
	}
	return st.Inventory()
}

func (r *Restock) Evaluate() (bool, error) {
	inv := r.inventory()
	return inv != nil && inv.Units <= r.ReorderPoint, nil
}

func (r *Restock) Act() error {
	inv := r.inventory()
	if inv == nil {
		return nil
	}
	inv.Units = min(inv.Capacity, inv.Units+r.Batch)
	r.Restocks++
	return nil
}
