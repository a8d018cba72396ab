package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/config"
)

// Builder creates an empty orchestrator from a configuration. Load calls it with
// the configuration stored in the snapshot.
type Builder func(cfg *config.Config) (*sim.Orchestrator, error)

// Load rebuilds a kernel from dir.
//
// Order: verify checksums; decode the configuration and build an empty kernel
// from it; restore RNG streams and the id counter; restore the registry (which
// rehydrates every object and checks the object count); restore the clock.
func Load(ctx context.Context, dir string, cat *sim.Catalog, build Builder) (o *sim.Orchestrator, cfg *config.Config, err error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "snapshot.load")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m, blobs, err := Verify(dir)
	if err != nil {
		return nil, nil, err
	}

	cfg = config.Default()
	dec := yaml.NewDecoder(bytes.NewReader(blobs[ConfigFile]))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", ConfigFile, err)
	}

	var rng RNGState
	if err := json.Unmarshal(blobs[RNGFile], &rng); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", RNGFile, err)
	}
	var img sim.RegistryImage
	if err := json.Unmarshal(blobs[RegistryFile], &img); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", RegistryFile, err)
	}
	if img.Total != m.Objects {
		return nil, nil, fmt.Errorf("registry holds %d objects, manifest says %d: %w", img.Total, m.Objects, sim.ErrCountMismatch)
	}

	o, err = build(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build kernel: %w", err)
	}
	if !o.Registry().IsEmpty() {
		return nil, nil, fmt.Errorf("builder returned a kernel with %d objects", o.Registry().Len())
	}
	if err := o.RNG().Restore(rng.Subsystems); err != nil {
		return nil, nil, err
	}
	o.IDs().SetCounter(rng.IDCounter)

	if err := sim.RestoreRegistry(&img, cat, o.Runtime(), o.Registry()); err != nil {
		return nil, nil, fmt.Errorf("restore %s: %w", dir, err)
	}
	if err := o.RestoreState(m.Clock); err != nil {
		return nil, nil, err
	}

	span.SetAttributes(
		attribute.Int64("total_ticks", m.Clock.TotalTicks),
		attribute.Int("objects", img.Total),
	)
	logrus.WithFields(logrus.Fields{
		"dir":     dir,
		"ticks":   m.Clock.TotalTicks,
		"objects": img.Total,
		"time":    m.Clock.Current,
	}).Info("Snapshot loaded")
	return o, cfg, nil
}
