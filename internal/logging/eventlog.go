package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Event logs — durable newline-delimited JSON under data/logs/
// ---------------------------------------------------------------------------

// EventLog appends JSON records to a single jsonl file. Safe for concurrent
// use within a process; each record gets a write timestamp.
type EventLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenEventLog opens (creating if needed) the jsonl file at dir/name.
func OpenEventLog(dir, name string) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &EventLog{path: path, f: f}, nil
}

// Append writes one event as a single JSON line. Secret fields are redacted
// before serialization. The event map is not mutated.
func (l *EventLog) Append(event string, fields map[string]any) error {
	rec := Redact(fields)
	rec["event"] = event
	rec["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("eventlog: marshal %s: %w", event, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("eventlog: write %s: %w", l.path, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Path returns the file path of this log.
func (l *EventLog) Path() string { return l.path }

// EventLogs bundles the standard per-service jsonl logs.
type EventLogs struct {
	Alerts   *EventLog
	Process  *EventLog
	Tracking *EventLog
	Trading  *EventLog
}

// OpenStandardLogs opens the four standard logs under dataDir/logs.
func OpenStandardLogs(dataDir string) (*EventLogs, error) {
	dir := filepath.Join(dataDir, "logs")
	alerts, err := OpenEventLog(dir, "alerts.jsonl")
	if err != nil {
		return nil, err
	}
	process, err := OpenEventLog(dir, "process.jsonl")
	if err != nil {
		return nil, err
	}
	tracking, err := OpenEventLog(dir, "tracking.jsonl")
	if err != nil {
		return nil, err
	}
	trading, err := OpenEventLog(dir, "trading.jsonl")
	if err != nil {
		return nil, err
	}
	return &EventLogs{Alerts: alerts, Process: process, Tracking: tracking, Trading: trading}, nil
}

// Close closes all open logs, returning the first error encountered.
func (e *EventLogs) Close() error {
	var first error
	for _, l := range []*EventLog{e.Alerts, e.Process, e.Tracking, e.Trading} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
