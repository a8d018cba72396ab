// Package snapshot persists a running kernel to disk and rebuilds it.
//
// A snapshot is a directory <root>/snapshot_<total_ticks>/ holding the registry
// image, the configuration, the RNG state and a manifest with an xxhash64
// checksum of each blob. The manifest is written last; a directory without one is
// incomplete and ignored.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/config"
)

const (
	RegistryFile = "registry.json"
	ConfigFile   = "config.yaml"
	RNGFile      = "rng.json"
	ManifestFile = "manifest.json"

	dirPrefix = "snapshot_"

	// ManifestVersion is bumped whenever the directory layout changes.
	ManifestVersion = 1
)

const tracerName = "github.com/inference-sim/simkernel/sim/snapshot"

var (
	ErrNoSnapshot = errors.New("no snapshot found")
	ErrChecksum   = errors.New("snapshot checksum mismatch")
)

// RNGState is the content of rng.json.
type RNGState struct {
	Subsystems map[string][]byte `json:"subsystems"`
	IDCounter  uint64            `json:"id_counter"`
}

// Manifest describes one snapshot directory.
type Manifest struct {
	Version      int               `json:"version"`
	ExperimentID string            `json:"experiment_id"`
	Clock        sim.ClockState    `json:"clock"`
	Objects      int               `json:"objects"`
	SavedAt      time.Time         `json:"saved_at"` // wall clock
	Checksums    map[string]string `json:"checksums"`
}

// Dir returns the snapshot directory for a tick count.
func Dir(root string, totalTicks int64) string {
	return filepath.Join(root, dirPrefix+strconv.FormatInt(totalTicks, 10))
}

func checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Save writes a snapshot of o under root and returns its directory. cfg is stored
// verbatim so the loader can rebuild the kernel with the same settings.
func Save(ctx context.Context, root string, cfg *config.Config, o *sim.Orchestrator) (dir string, err error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "snapshot.save")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	start := time.Now()

	img, err := sim.EncodeRegistry(o.Registry())
	if err != nil {
		return "", fmt.Errorf("encode registry: %w", err)
	}
	rngStates, err := o.RNG().State()
	if err != nil {
		return "", err
	}

	blobs := make(map[string][]byte, 3)
	if blobs[RegistryFile], err = json.Marshal(img); err != nil {
		return "", fmt.Errorf("marshal registry: %w", err)
	}
	if blobs[ConfigFile], err = yaml.Marshal(cfg); err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	if blobs[RNGFile], err = json.MarshalIndent(RNGState{Subsystems: rngStates, IDCounter: o.IDs().Counter()}, "", "  "); err != nil {
		return "", fmt.Errorf("marshal rng: %w", err)
	}

	dir = Dir(root, o.TotalTicks())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	// an existing manifest must not vouch for blobs that are being replaced
	if err := os.Remove(filepath.Join(dir, ManifestFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	manifest := Manifest{
		Version:      ManifestVersion,
		ExperimentID: cfg.ExperimentID,
		Clock:        o.State(),
		Objects:      img.Total,
		SavedAt:      time.Now().UTC(),
		Checksums:    make(map[string]string, len(blobs)),
	}
	g, _ := errgroup.WithContext(ctx)
	for name, data := range blobs {
		manifest.Checksums[name] = checksum(data)
		g.Go(func() error {
			return writeAtomic(filepath.Join(dir, name), data)
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", dir, err)
	}
	mdata, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(dir, ManifestFile), mdata); err != nil {
		return "", err
	}

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int64("total_ticks", o.TotalTicks()),
		attribute.Int("objects", img.Total),
	)
	if obs := o.Observer(); obs != nil {
		obs.SnapshotSaved(elapsed)
	}
	logrus.WithFields(logrus.Fields{
		"dir":     dir,
		"ticks":   o.TotalTicks(),
		"objects": img.Total,
		"elapsed": elapsed.Round(time.Millisecond),
	}).Info("Snapshot saved")
	return dir, nil
}

// writeAtomic writes through a temp file in the target directory and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadManifest reads the manifest of dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest in %s: %w", dir, err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("snapshot %s: manifest version %d, want %d", dir, m.Version, ManifestVersion)
	}
	return &m, nil
}

// Verify reads the manifest of dir and checks every blob against its checksum.
// It returns the blobs keyed by file name.
func Verify(dir string) (*Manifest, map[string][]byte, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, nil, err
	}
	blobs := make(map[string][]byte, len(m.Checksums))
	for _, name := range []string{RegistryFile, ConfigFile, RNGFile} {
		want, ok := m.Checksums[name]
		if !ok {
			return nil, nil, fmt.Errorf("snapshot %s: manifest has no checksum for %s", dir, name)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		if got := checksum(data); got != want {
			return nil, nil, fmt.Errorf("snapshot %s: %s is %s, manifest says %s: %w", dir, name, got, want, ErrChecksum)
		}
		blobs[name] = data
	}
	return m, blobs, nil
}

// List returns the complete snapshot directories under root, oldest first.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	type found struct {
		dir   string
		ticks int64
	}
	var all []found
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		ticks, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), dirPrefix), 10, 64)
		if err != nil {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
			continue
		}
		all = append(all, found{dir, ticks})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ticks < all[j].ticks })
	dirs := make([]string, len(all))
	for i, f := range all {
		dirs[i] = f.dir
	}
	return dirs, nil
}

// Latest returns the most advanced complete snapshot under root.
func Latest(root string) (string, error) {
	dirs, err := List(root)
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("%s: %w", root, ErrNoSnapshot)
	}
	return dirs[len(dirs)-1], nil
}

// Prune removes all but the newest keep snapshots. keep <= 0 keeps everything.
func Prune(root string, keep int) error {
	if keep <= 0 {
		return nil
	}
	dirs, err := List(root)
	if err != nil {
		return err
	}
	for len(dirs) > keep {
		if err := os.RemoveAll(dirs[0]); err != nil {
			return err
		}
		logrus.Debugf("Pruned snapshot %s", dirs[0])
		dirs = dirs[1:]
	}
	return nil
}
