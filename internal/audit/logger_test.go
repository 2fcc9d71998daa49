package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/order-gateway/ogw/internal/auth"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to unmarshal log entry %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	tempDir := t.TempDir()

	logger, err := NewLogger(tempDir, Options{})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	expectedPath := filepath.Join(tempDir, FileName)
	if logger.GetFilePath() != expectedPath {
		t.Errorf("Expected file path %s, got %s", expectedPath, logger.GetFilePath())
	}
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Error("Audit log file was not created")
	}
}

func TestNewLoggerUnwritableDir(t *testing.T) {
	tempDir := t.TempDir()
	blocker := filepath.Join(tempDir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewLogger(filepath.Join(blocker, "audit"), Options{}); err == nil {
		t.Error("Expected error when log directory is under a regular file")
	}
}

func TestRecordSuccess(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	ctx := auth.WithClaims(context.Background(), &auth.Claims{Subject: "user-123"})
	ctx = WithRequestID(ctx, "req-1")
	logger.Record(ctx, "state.save", "statestore/42", "OK", nil, 120*time.Millisecond)

	entries := readEntries(t, logger.GetFilePath())
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Action != "state.save" {
		t.Errorf("Expected action 'state.save', got '%s'", entry.Action)
	}
	if entry.Target != "statestore/42" {
		t.Errorf("Expected target 'statestore/42', got '%s'", entry.Target)
	}
	if entry.Outcome != OutcomeSuccess {
		t.Errorf("Expected outcome SUCCESS, got '%s'", entry.Outcome)
	}
	if entry.User != "user-123" {
		t.Errorf("Expected user 'user-123', got '%s'", entry.User)
	}
	if entry.RequestID != "req-1" {
		t.Errorf("Expected requestId 'req-1', got '%s'", entry.RequestID)
	}
	if entry.LatencyMs != 120 {
		t.Errorf("Expected latencyMs 120, got %d", entry.LatencyMs)
	}
	if entry.Timestamp.IsZero() {
		t.Error("Expected timestamp")
	}
}

func TestRecordFailure(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Record(context.Background(), "pubsub.publish", "pubsub/orders", "SIDECAR_TRANSPORT", errors.New("dial failed"), 0)

	entries := readEntries(t, logger.GetFilePath())
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Outcome != OutcomeFailure {
		t.Errorf("Expected outcome FAILURE, got '%s'", entries[0].Outcome)
	}
	if entries[0].Code != "SIDECAR_TRANSPORT" {
		t.Errorf("Expected code SIDECAR_TRANSPORT, got '%s'", entries[0].Code)
	}
	if entries[0].User != "anonymous" {
		t.Errorf("Expected user 'anonymous', got '%s'", entries[0].User)
	}
}

func TestRecordConcurrent(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Record(context.Background(), "state.get", "statestore/1", "OK", nil, time.Millisecond)
		}()
	}
	wg.Wait()

	if got := len(readEntries(t, logger.GetFilePath())); got != writers {
		t.Errorf("Expected %d entries, got %d", writers, got)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, Options{MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Record(context.Background(), "state.save", "statestore/1", "OK", nil, 0)
	if err := logger.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	logger.Record(context.Background(), "state.save", "statestore/2", "OK", nil, 0)

	entries := readEntries(t, logger.GetFilePath())
	if len(entries) != 1 || entries[0].Target != "statestore/2" {
		t.Errorf("Expected only the post-rotation entry, got %+v", entries)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	if len(files) != 1 {
		t.Errorf("Expected 1 rotated file, got %v", files)
	}
}

func TestRecordAfterClose(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second Close() should be a no-op, got %v", err)
	}

	// Must not panic.
	logger.Record(context.Background(), "state.get", "statestore/1", "OK", nil, 0)
}

func TestRequestIDContext(t *testing.T) {
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("Expected empty request ID")
	}
	ctx := WithRequestID(context.Background(), "abc")
	if RequestIDFromContext(ctx) != "abc" {
		t.Errorf("Expected abc, got %s", RequestIDFromContext(ctx))
	}
}
