package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrEmptyPath indicates the writer has no file to append to
	ErrEmptyPath = errors.New("event log path is empty")
)

// Writer appends records to the event log.
//
// Each Append opens, writes and closes the file, so a Writer holds no
// resources between calls and can be shared freely.
type Writer struct {
	path string
}

// NewWriter creates a writer for the log at path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the log file location.
func (w *Writer) Path() string {
	return w.path
}

// Append writes exactly one line for rec.
//
// The parent directory and file are created when absent. The line and its
// trailing newline are handed to the kernel in a single write on a file
// opened with O_APPEND, so concurrent writers from other processes cannot
// interleave inside a line. The file is fsynced before Append returns.
//
// If the file does not end in a newline (a torn write from an earlier crash)
// the record is prefixed with one, so the damaged fragment stays on its own
// line and every complete record remains intact.
func (w *Writer) Append(rec Record) error {
	if w.path == "" {
		return ErrEmptyPath
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.CommitHash, err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}

	torn, err := endsTorn(f)
	if err != nil {
		_ = f.Close()
		return err
	}

	buf := make([]byte, 0, len(line)+2)
	if torn {
		buf = append(buf, '\n')
	}
	buf = append(buf, line...)
	buf = append(buf, '\n')

	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing event log: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing event log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

// endsTorn reports whether a non-empty file lacks a trailing newline.
func endsTorn(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat event log: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading event log tail: %w", err)
	}
	return last[0] != '\n', nil
}
