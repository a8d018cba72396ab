package testutil

import "github.com/inference-sim/simkernel/sim"

// RecordingSink keeps every flushed metric batch in memory.
type RecordingSink struct {
	Batches []sim.MetricBatch
	Err     error
}

func (s *RecordingSink) WriteMetrics(batch sim.MetricBatch) error {
	if s.Err != nil {
		return s.Err
	}
	rows := append([]sim.MetricRow(nil), batch.Rows...)
	batch.Rows = rows
	s.Batches = append(s.Batches, batch)
	return nil
}

// Rows returns every recorded row in flush order.
func (s *RecordingSink) Rows() []sim.MetricRow {
	var out []sim.MetricRow
	for _, b := range s.Batches {
		out = append(out, b.Rows...)
	}
	return out
}
