// Package audit provides structured, append-only logging of coordination
// events: leader elections, resource lifecycle, and assignment decisions.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// Entry is one line of the audit log.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel                `json:"level"`
	Peer      string                 `json:"peer,omitempty"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Duration  int64                  `json:"duration_ms"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type Logger struct {
	file *os.File
	mu   sync.Mutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// InitLogger initializes the package-level default logger. Safe to call once
// per process; later calls are no-ops.
func InitLogger(logPath string) error {
	var err error
	once.Do(func() {
		defaultLogger, err = NewLogger(logPath)
	})
	return err
}

// NewLogger creates a standalone logger, for tests or alternate paths.
func NewLogger(logPath string) (*Logger, error) {
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &Logger{file: file}, nil
}

// Log writes one entry as a JSON line, and duplicates it to stderr for
// systemd journal capture.
func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s\n", string(data))

	return l.file.Sync()
}

func (l *Logger) Close() error {
	return l.file.Close()
}

// Log writes to the package-level default logger.
func Log(entry Entry) error {
	if defaultLogger == nil {
		return fmt.Errorf("audit logger not initialized")
	}
	return defaultLogger.Log(entry)
}

func Close() error {
	if defaultLogger == nil {
		return nil
	}
	return defaultLogger.Close()
}

// LogAction records a coordination-plane action: a leader election outcome,
// a resource install/release, an assignment publish.
func LogAction(action, peer, resource string, success bool, err error) {
	entry := Entry{
		Level:    LevelInfo,
		Action:   action,
		Peer:     peer,
		Resource: resource,
		Success:  success,
	}
	if err != nil {
		entry.Level = LevelError
		entry.Error = err.Error()
	}
	Log(entry)
}

// LogTimed records an action together with how long it took, for operations
// that go through the platform shim or the gossip transport.
func LogTimed(action, peer, resource string, success bool, d time.Duration, err error) {
	entry := Entry{
		Level:    LevelInfo,
		Action:   action,
		Peer:     peer,
		Resource: resource,
		Success:  success,
		Duration: d.Milliseconds(),
	}
	if err != nil {
		entry.Level = LevelError
		entry.Error = err.Error()
	}
	Log(entry)
}
