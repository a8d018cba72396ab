package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/command"
	"github.com/inference-sim/simkernel/sim/config"
	"github.com/inference-sim/simkernel/sim/demo"
	"github.com/inference-sim/simkernel/sim/observe"
	"github.com/inference-sim/simkernel/sim/snapshot"
	"github.com/inference-sim/simkernel/sim/trace"
)

// GlobalConfigFile is the copy of the effective configuration in the experiment root.
const GlobalConfigFile = "global_config.yaml"

var (
	seed         int64  // Overrides simulation.random_seed when set
	endTime      string // Overrides simulation.end_time when set
	loadSnapshot bool   // Warm start from the latest snapshot
)

// runCmd runs the demo marketplace on the kernel
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if cmd.Flags().Changed("seed") {
			cfg.Simulation.RandomSeed = seed
		}
		if cmd.Flags().Changed("end") {
			cfg.Simulation.EndTime = endTime
		}
		if loadSnapshot {
			cfg.Simulation.LoadFromSnapshot = true
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("%v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		startTime := time.Now()
		o, err := runSimulation(ctx, cfg)
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if o == nil {
			return
		}
		logrus.WithFields(logrus.Fields{
			"ticks":     o.TotalTicks(),
			"sim_time":  o.Now().Format(time.RFC3339),
			"wall_time": time.Since(startTime).Round(time.Millisecond),
		}).Info("Simulation complete.")
	},
}

// newKernel builds an empty orchestrator from cfg.
func newKernel(cfg *config.Config, sink sim.MetricSink) (*sim.Orchestrator, error) {
	start, err := cfg.StartTime()
	if err != nil {
		return nil, err
	}
	end, err := cfg.EndTime()
	if err != nil {
		return nil, err
	}
	return sim.New(sim.Options{
		Start:                 start,
		End:                   end,
		TickInterval:          cfg.TickInterval(),
		Seed:                  cfg.Simulation.RandomSeed,
		StartPaused:           !cfg.Simulation.AutomaticStart,
		TimeIndicatorInterval: cfg.TimeIndicatorInterval(),
		PausedBackoff:         cfg.PausedBackoff(),
		MetricSink:            sink,
	})
}

// metricsDir is where metric CSV files go.
func metricsDir(cfg *config.Config) string {
	return filepath.Join(cfg.ExperimentRoot(), "metrics")
}

// bootstrap returns a kernel ready to run: restored from the latest snapshot when
// cfg asks for a warm start, otherwise populated with a fresh demo marketplace.
// On warm start the returned configuration is the one stored in the snapshot with
// this run's end time, analytics and debug sections laid over it.
func bootstrap(ctx context.Context, cfg *config.Config) (*sim.Orchestrator, *config.Config, error) {
	if cfg.Simulation.LoadFromSnapshot {
		if cfg.Simulation.SnapshotDirectory == "" && cfg.ExperimentID == "" {
			return nil, nil, fmt.Errorf("load_from_snapshot needs experiment_id or simulation.snapshot_directory")
		}
		dir, err := snapshot.Latest(cfg.SnapshotRoot())
		if err != nil {
			return nil, nil, err
		}
		build := func(saved *config.Config) (*sim.Orchestrator, error) {
			saved.Simulation.EndTime = cfg.Simulation.EndTime
			saved.Simulation.LoadFromSnapshot = true
			saved.Simulation.SnapshotDirectory = cfg.Simulation.SnapshotDirectory
			saved.Analytics = cfg.Analytics
			saved.Debug = cfg.Debug
			sink, err := observe.NewCSVSink(metricsDir(saved))
			if err != nil {
				return nil, err
			}
			return newKernel(saved, sink)
		}
		o, saved, err := snapshot.Load(ctx, dir, demo.Catalog(), build)
		if err != nil {
			return nil, nil, err
		}
		return o, saved, nil
	}

	cfg.EnsureExperimentID()
	sink, err := observe.NewCSVSink(metricsDir(cfg))
	if err != nil {
		return nil, nil, err
	}
	o, err := newKernel(cfg, sink)
	if err != nil {
		return nil, nil, err
	}
	start, _ := cfg.StartTime()
	if _, err := demo.Build(o.Runtime(), cfg.Demo, start); err != nil {
		return nil, nil, fmt.Errorf("build demo: %w", err)
	}
	return o, cfg, nil
}

// runSimulation wires the kernel to its pollers, persister and observers and runs
// it until the end time, a Stop command or ctx cancellation.
func runSimulation(ctx context.Context, cfg *config.Config) (*sim.Orchestrator, error) {
	if !cfg.Simulation.LoadFromSnapshot {
		cfg.EnsureExperimentID()
	}
	shutdownTracing, err := observe.InitTracing(ctx, observe.TracingConfig{
		Enabled:      cfg.Analytics.OTelStdout,
		ServiceName:  "simkernel",
		ExperimentID: cfg.ExperimentID,
		SampleRatio:  1,
	})
	if err != nil {
		return nil, err
	}
	defer observe.ShutdownWithTimeout(context.Background(), shutdownTracing)

	o, cfg, err := bootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	root := cfg.ExperimentRoot()
	if err := cfg.Save(filepath.Join(root, GlobalConfigFile)); err != nil {
		return nil, fmt.Errorf("write %s: %w", GlobalConfigFile, err)
	}
	logrus.WithFields(logrus.Fields{
		"experiment": cfg.ExperimentID,
		"root":       root,
		"warm_start": cfg.Simulation.LoadFromSnapshot,
		"objects":    o.Registry().Len(),
	}).Info("Starting simulation")

	if cfg.Command.Enabled {
		reader := command.NewReader(cfg.CommandDir(), filepath.Join(root, command.LogFileName),
			cfg.CommandReadInterval(), cfg.TickInterval())
		o.AddPoller(reader)
		logrus.Infof("Reading commands from %s", reader.Path())
	}
	o.SetPersister(snapshot.NewStore(cfg.SnapshotRoot(), cfg, snapshot.PolicyFrom(cfg)))

	reg := prometheus.NewRegistry()
	collector, err := observe.NewCollector(reg)
	if err != nil {
		return nil, err
	}
	o.SetObserver(collector)
	if addr := cfg.Analytics.MetricsAddress; addr != "" {
		srv := &http.Server{Addr: addr, Handler: collector.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("metrics server: %v", err)
			}
		}()
		defer func() { _ = srv.Close() }()
		logrus.Infof("Serving kernel metrics on %s/metrics", addr)
	}

	tc := cfg.TraceConfig()
	if tc.Level != trace.TraceLevelNone && tc.Level != "" {
		o.SetTrace(trace.NewSimulationTrace(tc))
	}

	runErr := o.Run(ctx)
	flushMetrics(o)
	if st := o.Trace(); st != nil {
		logTraceSummary(trace.Summarize(st))
	}
	return o, runErr
}

// flushMetrics writes buffered metric rows that have not reached their save cadence.
func flushMetrics(o *sim.Orchestrator) {
	for _, obj := range o.Registry().Objects(sim.RoleMetric) {
		f, ok := obj.(interface{ Flush() error })
		if !ok {
			continue
		}
		if err := f.Flush(); err != nil {
			logrus.Errorf("flush %s: %v", obj.ID(), err)
		}
	}
}

func logTraceSummary(s *trace.TraceSummary) {
	logrus.WithFields(logrus.Fields{
		"ticks":           s.TotalTicks,
		"commands":        s.TotalCommands,
		"failed_commands": s.FailedCommands,
		"late_commands":   s.LateCommands,
		"mean_objects":    s.MeanObjectsPerTick,
		"max_objects":     s.MaxObjectsPerTick,
		"max_tick":        s.MaxTickElapsed,
	}).Info("Trace summary")
}

func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 1, "Seed for the simulation RNG (overrides simulation.random_seed)")
	runCmd.Flags().StringVar(&endTime, "end", "", "End time, RFC3339 (overrides simulation.end_time)")
	runCmd.Flags().BoolVar(&loadSnapshot, "load-snapshot", false, "Resume from the latest snapshot of the experiment")
}
