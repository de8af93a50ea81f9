// Package audit records every engine decision to an append-only trail so any
// action can be reconstructed after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one audit record. Payload carries the full decision context.
type Entry struct {
	Timestamp time.Time   `json:"timestamp"`
	Kind      string      `json:"kind"`
	Symbol    string      `json:"symbol,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Entry kinds.
const (
	KindDecision  = "decision"
	KindSizing    = "sizing"
	KindSafety    = "safety"
	KindEntry     = "entry"
	KindExit      = "exit"
	KindRejection = "rejection"
	KindBreaker   = "breaker"
	KindDegraded  = "degradation"
)

// Sink receives audit entries.
type Sink interface {
	Record(entry Entry) error
	Close() error
}

// FileSink appends entries to a JSON-lines file, one object per line.
type FileSink struct {
	mu     sync.Mutex
	logger *zap.Logger
	file   *os.File
	enc    *json.Encoder
}

// NewFileSink opens (or creates) the audit file for appending.
func NewFileSink(logger *zap.Logger, path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileSink{
		logger: logger.Named("audit"),
		file:   f,
		enc:    json.NewEncoder(f),
	}, nil
}

// Record appends one entry. Timestamps are stamped here if missing.
func (s *FileSink) Record(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := s.enc.Encode(entry); err != nil {
		s.logger.Error("failed to write audit entry", zap.Error(err))
		return err
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// NopSink discards entries, for tests.
type NopSink struct{}

func (NopSink) Record(Entry) error { return nil }
func (NopSink) Close() error       { return nil }
