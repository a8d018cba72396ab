package observe

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/inference-sim/simkernel/sim"
)

// metricRowColumns lead every CSV file; the metric's own columns follow.
var metricRowColumns = []string{
	"timestamp", "aggregation_window_s", "subject_role", "subject_subtype",
	"subject_id", "subject_simulation_count",
}

// CSVSink appends flushed metric rows to <dir>/<metric_subtype>.csv. It implements
// sim.MetricSink. The header row is written when a file is created.
type CSVSink struct {
	dir string
}

func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating metrics directory: %w", err)
	}
	return &CSVSink{dir: dir}, nil
}

// Path returns the file a metric subtype is written to.
func (s *CSVSink) Path(subtype string) string {
	return filepath.Join(s.dir, subtype+".csv")
}

func (s *CSVSink) WriteMetrics(batch sim.MetricBatch) (err error) {
	path := s.Path(batch.Subtype)
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening metric file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	writer := csv.NewWriter(file)
	if fresh {
		header := append(append([]string(nil), metricRowColumns...), batch.Columns...)
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("writing CSV header: %w", err)
		}
	}
	for _, r := range batch.Rows {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(r.AggregationWindow.Seconds(), 'f', -1, 64),
			r.SubjectRole.String(),
			r.SubjectSubtype,
			r.SubjectID,
			strconv.FormatInt(r.SubjectSimulationCount, 10),
		}
		for _, v := range r.Values {
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row for %s: %w", r.SubjectID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
