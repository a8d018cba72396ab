package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/simkernel/sim/snapshot"
)

var (
	snapshotRoot string // Overrides the configured snapshot directory
	verify       bool   // Check every blob against the manifest
	keep         int    // Prune down to this many snapshots
)

// snapshotsCmd lists the snapshots of an experiment
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List, verify or prune saved snapshots",
	Run: func(cmd *cobra.Command, args []string) {
		root := snapshotRoot
		if root == "" {
			cfg, err := loadConfig()
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			if cfg.Simulation.SnapshotDirectory == "" && cfg.ExperimentID == "" {
				logrus.Fatalf("Set --root, simulation.snapshot_directory or experiment_id to locate snapshots")
			}
			root = cfg.SnapshotRoot()
		}
		if keep > 0 {
			if err := snapshot.Prune(root, keep); err != nil {
				logrus.Fatalf("Prune failed: %v", err)
			}
		}
		bad, err := listSnapshots(os.Stdout, root, verify)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if bad > 0 {
			logrus.Fatalf("%d snapshot(s) failed verification", bad)
		}
	},
}

// listSnapshots prints one line per snapshot under root and returns how many
// failed verification.
func listSnapshots(w io.Writer, root string, check bool) (int, error) {
	dirs, err := snapshot.List(root)
	if err != nil {
		return 0, err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SNAPSHOT\tTICKS\tSIM TIME\tOBJECTS\tSTATUS")
	bad := 0
	for _, dir := range dirs {
		m, err := snapshot.ReadManifest(dir)
		if err != nil {
			bad++
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%v\n", filepath.Base(dir), err)
			continue
		}
		status := "ok"
		if check {
			if _, _, err := snapshot.Verify(dir); err != nil {
				bad++
				status = err.Error()
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n", filepath.Base(dir), m.Clock.TotalTicks,
			m.Clock.Current.Format(time.RFC3339), m.Objects, status)
	}
	return bad, tw.Flush()
}

func init() {
	snapshotsCmd.Flags().StringVar(&snapshotRoot, "root", "", "Snapshot directory (default: from the configuration)")
	snapshotsCmd.Flags().BoolVar(&verify, "verify", false, "Verify blob checksums")
	snapshotsCmd.Flags().IntVar(&keep, "keep", 0, "Remove all but the newest N snapshots before listing")
}
