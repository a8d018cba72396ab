package sim

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Calculator is implemented by concrete metrics.
type Calculator interface {
	// Columns names the values Calculate returns, in order.
	Columns() []string
	Calculate() ([]float64, error)
}

// MetricConfig controls sampling and buffering of one metric.
type MetricConfig struct {
	// CalculationRate is the probability that the metric samples on a given
	// computation. 1 samples every time.
	CalculationRate float64 `json:"calculation_rate"`
	// ComputationInterval is the metric's simulation interval.
	ComputationInterval time.Duration `json:"computation_interval"`
	// CalculationsPerSave is the flush threshold. Rows are also flushed after the
	// first calculation.
	CalculationsPerSave int `json:"calculations_per_save"`
	// AggregationWindow is written alongside every row.
	AggregationWindow time.Duration `json:"aggregation_window"`
}

// DefaultMetricConfig samples every hour and flushes every 24 calculations.
func DefaultMetricConfig() MetricConfig {
	return MetricConfig{
		CalculationRate:     1,
		ComputationInterval: time.Hour,
		CalculationsPerSave: 24,
		AggregationWindow:   time.Hour,
	}
}

// Ref identifies an object across a snapshot boundary.
type Ref struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// RefOf returns the reference for a live object.
func RefOf(obj Object) Ref {
	return Ref{ID: obj.ID(), Role: obj.Role()}
}

// MetricRow is one buffered sample.
type MetricRow struct {
	Timestamp              time.Time     `json:"timestamp"`
	AggregationWindow      time.Duration `json:"aggregation_window"`
	SubjectRole            Role          `json:"subject_role"`
	SubjectSubtype         string        `json:"subject_subtype"`
	SubjectID              string        `json:"subject_id"`
	SubjectSimulationCount int64         `json:"subject_simulation_count"`
	Values                 []float64     `json:"values"`
}

// MetricBatch is what a metric hands to its sink on flush.
type MetricBatch struct {
	MetricID string
	Subtype  string
	Columns  []string
	Rows     []MetricRow
}

// MetricSink receives flushed metric rows.
type MetricSink interface {
	WriteMetrics(batch MetricBatch) error
}

// LogSink writes metric rows as structured log lines.
type LogSink struct{}

func (LogSink) WriteMetrics(batch MetricBatch) error {
	for _, row := range batch.Rows {
		fields := logrus.Fields{
			"metric":  batch.Subtype,
			"subject": row.SubjectID,
			"time":    row.Timestamp.Format(time.RFC3339),
		}
		for i, col := range batch.Columns {
			if i < len(row.Values) {
				fields[col] = row.Values[i]
			}
		}
		logrus.WithFields(fields).Debug("metric")
	}
	return nil
}

// MetricBase is embedded by metric types. A metric is attached to one subject after
// construction and samples it on its own cadence.
type MetricBase struct {
	Base
	cfg             MetricConfig
	subject         Object
	cancelCleanup   func()
	shouldCalculate bool
	calculations    int64
	rows            []MetricRow

	pendingSubject *Ref
}

// InitMetric registers a metric. Whether this metric samples at all is drawn once
// from the metrics RNG stream using cfg.CalculationRate.
func (m *MetricBase) InitMetric(rt *Runtime, self Object, subtype string, cfg MetricConfig) error {
	if err := m.initBase(rt, self, RoleMetric, subtype); err != nil {
		return err
	}
	if cfg.CalculationsPerSave <= 0 {
		cfg.CalculationsPerSave = 1
	}
	m.cfg = cfg
	m.SetSimulationInterval(cfg.ComputationInterval)
	m.SetSimulateOnFirstTick(true)
	m.shouldCalculate = rt.RNG.ForSubsystem(SubsystemMetrics).Float64() < cfg.CalculationRate
	return nil
}

// Attach binds the metric to subject and starts it on first use. Destroying the
// subject detaches the metric without destroying it, and a detached metric may be
// attached again.
func (m *MetricBase) Attach(subject Object) error {
	if subject.Destroyed() {
		return fmt.Errorf("attach %s to %s: %w", m, subject.base(), ErrDestroyed)
	}
	m.attach(subject)
	if m.Started() {
		return nil
	}
	return m.Start()
}

func (m *MetricBase) attach(subject Object) {
	if m.cancelCleanup != nil {
		m.cancelCleanup()
	}
	m.subject = subject
	m.cancelCleanup = subject.base().AddCleanup(func() error {
		m.cancelCleanup = nil
		m.detach()
		return nil
	})
}

// Detach flushes pending rows and drops the subject.
func (m *MetricBase) Detach() {
	if m.cancelCleanup != nil {
		m.cancelCleanup()
		m.cancelCleanup = nil
	}
	m.detach()
}

func (m *MetricBase) detach() {
	if err := m.Flush(); err != nil {
		logrus.Errorf("flush %s on detach: %v", m, err)
	}
	m.subject = nil
}

// Subject returns the attached object, or nil.
func (m *MetricBase) Subject() Object { return m.subject }

func (m *MetricBase) Config() MetricConfig { return m.cfg }

// Sampling reports whether this metric was selected to calculate.
func (m *MetricBase) Sampling() bool { return m.shouldCalculate }

// Calculations returns how many rows have been computed.
func (m *MetricBase) Calculations() int64 { return m.calculations }

// Pending returns the rows buffered since the last flush.
func (m *MetricBase) Pending() []MetricRow {
	return append([]MetricRow(nil), m.rows...)
}

func (m *MetricBase) Validate() error {
	if m.subject == nil {
		return ErrNotAttached
	}
	return nil
}

// Simulate computes one row for the current timestamp. Later calculations for a
// timestamp already buffered are dropped.
func (m *MetricBase) Simulate() error {
	if !m.shouldCalculate || m.subject == nil || m.subject.Paused() {
		return nil
	}
	calc, ok := m.self.(Calculator)
	if !ok {
		return nil
	}
	now := m.Now()
	for _, r := range m.rows {
		if r.Timestamp.Equal(now) {
			return nil
		}
	}
	values, err := calc.Calculate()
	if err != nil {
		return fmt.Errorf("calculate %s: %w", m, err)
	}
	m.rows = append(m.rows, MetricRow{
		Timestamp:              now,
		AggregationWindow:      m.cfg.AggregationWindow,
		SubjectRole:            m.subject.Role(),
		SubjectSubtype:         m.subject.Subtype(),
		SubjectID:              m.subject.ID(),
		SubjectSimulationCount: m.subject.SimulationCount(),
		Values:                 values,
	})
	m.calculations++
	if m.calculations == 1 || m.calculations%int64(m.cfg.CalculationsPerSave) == 0 {
		return m.Flush()
	}
	return nil
}

// Flush hands buffered rows to the runtime's sink.
func (m *MetricBase) Flush() error {
	if len(m.rows) == 0 || m.rt.Sink == nil {
		return nil
	}
	var columns []string
	if calc, ok := m.self.(Calculator); ok {
		columns = calc.Columns()
	}
	batch := MetricBatch{MetricID: m.id, Subtype: m.subtype, Columns: columns, Rows: m.rows}
	if err := m.rt.Sink.WriteMetrics(batch); err != nil {
		return fmt.Errorf("flush %s: %w", m, err)
	}
	m.rows = nil
	return nil
}

func (m *MetricBase) kernelDestroy() {
	m.Detach()
}

func (m *MetricBase) kernelRehydrate(r Resolver) error {
	ref := m.pendingSubject
	m.pendingSubject = nil
	if ref == nil {
		return nil
	}
	subject, err := r.Resolve(*ref)
	if err != nil {
		return fmt.Errorf("%s subject: %w", m, err)
	}
	m.attach(subject)
	return nil
}

type metricKernelState struct {
	Config          MetricConfig `json:"config"`
	Subject         *Ref         `json:"subject,omitempty"`
	ShouldCalculate bool         `json:"should_calculate"`
	Calculations    int64        `json:"calculations"`
	Rows            []MetricRow  `json:"rows,omitempty"`
}

func (m *MetricBase) encodeKind() (json.RawMessage, error) {
	st := metricKernelState{
		Config:          m.cfg,
		ShouldCalculate: m.shouldCalculate,
		Calculations:    m.calculations,
		Rows:            m.rows,
	}
	if m.subject != nil {
		ref := RefOf(m.subject)
		st.Subject = &ref
	}
	return json.Marshal(st)
}

func (m *MetricBase) decodeKind(raw json.RawMessage) error {
	var st metricKernelState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	m.cfg = st.Config
	m.shouldCalculate = st.ShouldCalculate
	m.calculations = st.Calculations
	m.rows = st.Rows
	m.pendingSubject = st.Subject
	return nil
}
