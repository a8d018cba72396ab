package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/config"
)

// Policy says when the Store writes snapshots.
type Policy struct {
	Enabled     bool
	SaveAtStart bool
	Interval    time.Duration
	// Keep bounds how many snapshots are retained; 0 keeps all.
	Keep int
}

// PolicyFrom reads the snapshot section of cfg.
func PolicyFrom(cfg *config.Config) Policy {
	return Policy{
		Enabled:     cfg.Snapshot.ShouldSave,
		SaveAtStart: cfg.Snapshot.ShouldSaveAtStart,
		Interval:    cfg.SnapshotInterval(),
		Keep:        cfg.Snapshot.Keep,
	}
}

// Store saves periodic snapshots. It implements sim.Persister.
//
// A snapshot is taken after every tick whose total tick count is a multiple of
// the interval, so a resumed run keeps the same grid.
type Store struct {
	root   string
	cfg    *config.Config
	policy Policy
	saved  []string
}

func NewStore(root string, cfg *config.Config, policy Policy) *Store {
	return &Store{root: root, cfg: cfg, policy: policy}
}

func (s *Store) Root() string { return s.root }

// Saved returns the directories written by this store, in order.
func (s *Store) Saved() []string { return append([]string(nil), s.saved...) }

// BeforeRun implements sim.Persister.
func (s *Store) BeforeRun(ctx context.Context, o *sim.Orchestrator) error {
	if !s.policy.Enabled || !s.policy.SaveAtStart {
		return nil
	}
	// a warm start already has this snapshot on disk
	if _, err := os.Stat(filepath.Join(Dir(s.root, o.TotalTicks()), ManifestFile)); err == nil {
		return nil
	}
	return s.save(ctx, o)
}

// AfterTick implements sim.Persister.
func (s *Store) AfterTick(ctx context.Context, o *sim.Orchestrator) error {
	if !s.policy.Enabled || s.policy.Interval <= 0 {
		return nil
	}
	every := sim.IntervalTicks(s.policy.Interval, o.TickInterval())
	if o.TotalTicks()%every != 0 {
		return nil
	}
	return s.save(ctx, o)
}

func (s *Store) save(ctx context.Context, o *sim.Orchestrator) error {
	dir, err := Save(ctx, s.root, s.cfg, o)
	if err != nil {
		return err
	}
	s.saved = append(s.saved, dir)
	return Prune(s.root, s.policy.Keep)
}
