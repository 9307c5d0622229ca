package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

// FileAuditSink grava uma linha JSON por decisão, só com append.
type FileAuditSink struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileAuditSink(path string) (*FileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileAuditSink{f: f}, nil
}

func (s *FileAuditSink) Name() string { return "audit_file" }

func (s *FileAuditSink) Write(_ context.Context, rec domain.DecisionRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(line)
	return err
}

func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
