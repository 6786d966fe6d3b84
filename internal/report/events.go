package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventFetch    EventType = "fetch"
	EventScan     EventType = "scan"
	EventDesktop  EventType = "desktop"
	EventChange   EventType = "change"
	EventDecide   EventType = "decide"
	EventConflict EventType = "conflict"
	EventExecute  EventType = "execute"
	EventPurge    EventType = "purge"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in the reconciliation pipeline
type Event struct {
	Timestamp  time.Time         `json:"ts"`
	Level      EventLevel        `json:"level"`
	Event      EventType         `json:"event"`
	RunID      string            `json:"run_id,omitempty"`
	Source     string            `json:"source,omitempty"`
	Collection string            `json:"collection,omitempty"`
	ItemKey    string            `json:"item_key,omitempty"`
	Path       string            `json:"path,omitempty"`
	Change     string            `json:"change,omitempty"`
	Action     string            `json:"action,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Priority   int               `json:"priority,omitempty"`
	Bytes      int64             `json:"bytes,omitempty"`
	Duration   int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error      string            `json:"error,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
	runID    string
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel, runID string) (*EventLogger, error) {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Generate filename with timestamp
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	// Open file for writing
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
		runID:    runID,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	// Filter by minimum level
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil // Skip events below minimum level
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogFetch logs a snapshot fetch from one source
func (l *EventLogger) LogFetch(source, collection string, itemCount int) error {
	return l.Log(&Event{
		Level:      LevelInfo,
		Event:      EventFetch,
		Source:     source,
		Collection: collection,
		Extra: map[string]string{
			"item_count": fmt.Sprintf("%d", itemCount),
		},
	})
}

// LogScan logs a local library scan event
func (l *EventLogger) LogScan(collection, path string, sizeBytes int64) error {
	return l.Log(&Event{
		Level:      LevelDebug,
		Event:      EventScan,
		Source:     "local",
		Collection: collection,
		Path:       path,
		Bytes:      sizeBytes,
	})
}

// LogChange logs one applied (or failed) change
func (l *EventLogger) LogChange(source, changeType, collection, itemKey string, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:      level,
		Event:      EventChange,
		Source:     source,
		Change:     changeType,
		Collection: collection,
		ItemKey:    itemKey,
		Error:      errMsg,
	})
}

// LogDecision logs one generated decision. No-action records go at
// debug level so routine runs do not flood the event log.
func (l *EventLogger) LogDecision(action, collection, path, reason string, priority int) error {
	level := LevelInfo
	if action == "no_action" {
		level = LevelDebug
	}

	return l.Log(&Event{
		Level:      level,
		Event:      EventDecide,
		Action:     action,
		Collection: collection,
		Path:       path,
		Reason:     reason,
		Priority:   priority,
	})
}

// LogConflict logs two or more decisions colliding on a path
func (l *EventLogger) LogConflict(path, kind, resolution string) error {
	return l.Log(&Event{
		Level:  LevelWarning,
		Event:  EventConflict,
		Path:   path,
		Reason: kind,
		Action: resolution,
	})
}

// LogExecute logs the outcome of one executed decision
func (l *EventLogger) LogExecute(action, path string, bytes int64, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:    level,
		Event:    EventExecute,
		Action:   action,
		Path:     path,
		Bytes:    bytes,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogPurge logs the dead-membership cleanup pass
func (l *EventLogger) LogPurge(count int) error {
	return l.Log(&Event{
		Level: LevelInfo,
		Event: EventPurge,
		Extra: map[string]string{
			"purged": fmt.Sprintf("%d", count),
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, path string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		Path:  path,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
