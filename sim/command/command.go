// Package command implements the file-based control protocol: external tools drop
// Pause/Start/Stop records into command.json and the kernel picks them up on a
// fixed simulated cadence, even while paused.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/simkernel/sim"
)

// Type names a control command.
type Type string

const (
	Pause Type = "Pause"
	Start Type = "Start"
	Stop  Type = "Stop"
)

// Priority says when a command runs.
type Priority string

const (
	// Immediate commands run at the next tick.
	Immediate Priority = "Immediate"
	// Scheduled commands run at their ScheduledTime.
	Scheduled Priority = "Scheduled"
)

const (
	FileName    = "command.json"
	LogFileName = "scheduled_commands.json"
)

var (
	ErrUnknownType     = errors.New("unknown command type")
	ErrUnknownPriority = errors.New("unknown command priority")
)

// Record is one entry of command.json.
type Record struct {
	CommandType   Type     `json:"command_type"`
	Priority      Priority `json:"priority"`
	ScheduledTime string   `json:"scheduled_time,omitempty"` // RFC3339, Scheduled only
}

// Validate checks the type, the priority and, for scheduled commands, the time.
func (r Record) Validate() error {
	switch r.CommandType {
	case Pause, Start, Stop:
	default:
		return fmt.Errorf("%w %q; valid: Pause, Start, Stop", ErrUnknownType, r.CommandType)
	}
	switch r.Priority {
	case Immediate:
		return nil
	case Scheduled:
		if _, err := time.Parse(time.RFC3339, r.ScheduledTime); err != nil {
			return fmt.Errorf("scheduled_time %q: %w", r.ScheduledTime, err)
		}
		return nil
	default:
		return fmt.Errorf("%w %q; valid: Immediate, Scheduled", ErrUnknownPriority, r.Priority)
	}
}

// At returns when the command should run given the current simulated time.
func (r Record) At(now time.Time) time.Time {
	if r.Priority != Scheduled {
		return now
	}
	t, err := time.Parse(time.RFC3339, r.ScheduledTime)
	if err != nil {
		return now
	}
	return t
}

// Schedule queues the orchestrator action for rec.
func Schedule(o *sim.Orchestrator, rec Record, at time.Time) {
	var fn func() error
	switch rec.CommandType {
	case Pause:
		fn = func() error { o.Pause(); return nil }
	case Start:
		fn = func() error { o.Resume(); return nil }
	case Stop:
		fn = func() error { o.Stop(); return nil }
	default:
		return
	}
	o.Schedule(at, string(rec.CommandType), fn)
}

// LogEntry is one accepted command in scheduled_commands.json.
type LogEntry struct {
	ScheduledTime time.Time `json:"scheduled_time"`
	ReadAt        time.Time `json:"read_at"`
	Command       Record    `json:"command"`
}

// Reader polls command.json on a simulated cadence. It implements sim.Poller.
type Reader struct {
	path    string
	logPath string
	cadence sim.Cadence
}

// NewReader reads <dir>/command.json every interval of simulated time and appends
// accepted commands to logPath. An empty logPath disables the log.
func NewReader(dir, logPath string, interval, tick time.Duration) *Reader {
	return &Reader{
		path:    filepath.Join(dir, FileName),
		logPath: logPath,
		cadence: sim.NewCadence(interval, tick, true),
	}
}

// Path returns the command file location.
func (r *Reader) Path() string { return r.path }

// Poll implements sim.Poller.
func (r *Reader) Poll(o *sim.Orchestrator) error {
	if !r.cadence.Step() {
		return nil
	}
	now := o.Now()
	recs, err := r.Read()
	if err != nil {
		// a half-written file is retried on the next read
		logrus.Warnf("command file %s: %v", r.path, err)
		return nil
	}
	if len(recs) == 0 {
		return nil
	}
	var accepted []LogEntry
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			logrus.WithFields(logrus.Fields{"file": r.path, "command": rec.CommandType}).
				Warnf("rejected command: %v", err)
			continue
		}
		at := rec.At(now)
		Schedule(o, rec, at)
		logrus.Infof("Command %s scheduled for %s", rec.CommandType, at.Format(time.RFC3339))
		accepted = append(accepted, LogEntry{ScheduledTime: at, ReadAt: now, Command: rec})
	}
	if r.logPath != "" && len(accepted) > 0 {
		if err := appendLog(r.logPath, accepted); err != nil {
			return fmt.Errorf("log scheduled commands: %w", err)
		}
	}
	return nil
}

// Read returns the pending records and atomically clears the file when it held
// any. A missing file is created empty.
func (r *Reader) Read() ([]Record, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, writeJSON(r.path, []Record{})
	}
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	if err := writeJSON(r.path, []Record{}); err != nil {
		return nil, fmt.Errorf("clear: %w", err)
	}
	return recs, nil
}

// Append adds records to <dir>/command.json, creating it when missing.
func Append(dir string, recs ...Record) error {
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return err
		}
	}
	path := filepath.Join(dir, FileName)
	var existing []Record
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	case len(data) > 0:
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return writeJSON(path, append(existing, recs...))
}

// ReadLog returns every entry of a scheduled-commands log.
func ReadLog(path string) ([]LogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return entries, nil
}

func appendLog(path string, entries []LogEntry) error {
	existing, err := ReadLog(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return writeJSON(path, append(existing, entries...))
}

// writeJSON replaces path atomically through a temp file in the same directory.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
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
