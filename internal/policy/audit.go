package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Record is one audit log line. Decision records carry the gating fields;
// completion records reuse the identity fields and add status and timing.
type Record struct {
	TS           time.Time        `json:"ts"`
	SessionID    string           `json:"session_id"`
	CallID       string           `json:"call_id"`
	Tool         string           `json:"tool"`
	Risk         models.RiskLevel `json:"risk"`
	Decision     models.Decision  `json:"decision,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	ArgsRedacted json.RawMessage  `json:"args_redacted,omitempty"`

	Privacy    models.PrivacyScope `json:"privacy,omitempty"`
	Status     models.ResultStatus `json:"status,omitempty"`
	ErrorCode  string              `json:"error_code,omitempty"`
	DurationMS int64               `json:"duration_ms,omitempty"`
	Output     string              `json:"output,omitempty"`
}

// WriterConfig configures the audit file writer.
type WriterConfig struct {
	// Path is the active audit file. Rotated files live next to it as
	// <path>.1 (newest) through <path>.N (oldest).
	Path string

	// MaxBytes rotates the active file when an append would push it past
	// this size. Defaults to 10 MiB.
	MaxBytes int64

	// KeepFiles is how many rotated files to retain. Defaults to 5.
	KeepFiles int
}

const (
	defaultAuditMaxBytes  = 10 << 20
	defaultAuditKeepFiles = 5
)

// Writer appends JSONL audit records to a single file with size-based
// rotation. All writers in the process serialize through the mutex; a nil
// *Writer discards records, which is how auditing is disabled.
type Writer struct {
	mu   sync.Mutex
	path string
	max  int64
	keep int
	file *os.File
	size int64
}

// NewWriter opens (or creates) the audit file for appending. The file is
// owner-only, as is the directory it lives in.
func NewWriter(config WriterConfig) (*Writer, error) {
	if config.Path == "" {
		return nil, errors.New("audit path is required")
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = defaultAuditMaxBytes
	}
	if config.KeepFiles <= 0 {
		config.KeepFiles = defaultAuditKeepFiles
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	file, err := os.OpenFile(config.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}

	return &Writer{
		path: config.Path,
		max:  config.MaxBytes,
		keep: config.KeepFiles,
		file: file,
		size: info.Size(),
	}, nil
}

// Write appends one record as a JSON line, rotating first if the line would
// push the active file past the size threshold.
func (w *Writer) Write(rec *Record) error {
	if w == nil || rec == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("audit log is closed")
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')

	if w.size >= w.max {
		if err := w.rotateLocked(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := w.file.Write(line)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Close flushes and closes the active file. Further writes fail.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotateLocked shifts <path>.n to <path>.n+1 (dropping the oldest), moves the
// active file to <path>.1, and swaps in a fresh active file created under a
// temp name so the path is never open for append while partially written.
func (w *Writer) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	os.Remove(fmt.Sprintf("%s.%d", w.path, w.keep))
	for n := w.keep - 1; n >= 1; n-- {
		src := fmt.Sprintf("%s.%d", w.path, n)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, fmt.Sprintf("%s.%d", w.path, n+1)); err != nil {
			return err
		}
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".audit-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return err
	}

	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w.file = file
	w.size = 0
	return nil
}
