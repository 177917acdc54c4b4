package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RequestLog represents a single wire-protocol request log entry.
type RequestLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  uint64    `json:"request_id"`
	AuthID     uint64    `json:"auth_id"`
	Op         string    `json:"op"`
	PoolID     uint64    `json:"pool_id,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	KeyLen     int       `json:"key_len,omitempty"`
	ValueLen   int       `json:"value_len,omitempty"`
	Direct     bool      `json:"direct,omitempty"`
	ShortCircuit bool    `json:"short_circuit,omitempty"`
}

// Logger handles request logging
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a request log entry
func (l *Logger) Log(entry *RequestLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		direct := ""
		if entry.Direct {
			direct = " [direct]"
		}
		sc := ""
		if entry.ShortCircuit {
			sc = " [scbe]"
		}
		fmt.Printf("[request] %s req=%d pool=%d %s %dms%s%s\n",
			status, entry.RequestID, entry.PoolID, entry.Op, entry.DurationMs, direct, sc)
		if entry.Error != "" {
			fmt.Printf("[request]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
