package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Reader reads records back from the event log.
type Reader struct {
	path string
}

// NewReader creates a reader for the log at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// ScanResult summarises a full pass over the log.
type ScanResult struct {
	Records int
	Skipped int

	// Offset is the byte position just past the last complete line.
	Offset int64
}

// Scan calls fn for every well-formed record in file order.
//
// Lines that are not valid JSON records (torn writes, foreign content) are
// counted and skipped. A missing log is an empty log. Scan stops early if fn
// returns an error or ctx is cancelled.
func (r *Reader) Scan(ctx context.Context, fn func(Record) error) (ScanResult, error) {
	var res ScanResult

	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	off, err := r.scanFrom(ctx, f, 0, &res, fn)
	res.Offset = off
	return res, err
}

// Tail returns the last n well-formed records, oldest first.
func (r *Reader) Tail(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]Record, 0, n)
	_, err := r.Scan(ctx, func(rec Record) error {
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, rec)
		return nil
	})
	return ring, err
}

// Follow delivers records appended after offset until ctx is cancelled.
//
// The log's directory is watched with fsnotify so the file may be created
// after Follow starts. A partial trailing line is held back until its
// newline arrives.
func (r *Reader) Follow(ctx context.Context, offset int64, fn func(Record) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	var res ScanResult
	catchUp := func() error {
		f, err := os.Open(r.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("opening event log: %w", err)
		}
		defer f.Close()

		next, err := r.scanFrom(ctx, f, offset, &res, fn)
		offset = next
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := catchUp(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := catchUp(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching event log: %w", err)
		}
	}
}

// scanFrom decodes complete lines starting at offset and returns the offset
// just past the last complete line consumed.
func (r *Reader) scanFrom(ctx context.Context, f *os.File, offset int64, res *ScanResult, fn func(Record) error) (int64, error) {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seeking event log: %w", err)
	}

	br := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return offset, err
		}

		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Incomplete tail; leave it for a later pass.
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("reading event log: %w", err)
		}
		offset += int64(len(line))

		rec, ok := decodeLine(line)
		if !ok {
			if len(bytes.TrimSpace(line)) > 0 {
				res.Skipped++
			}
			continue
		}
		res.Records++
		if err := fn(rec); err != nil {
			return offset, err
		}
	}
}

func decodeLine(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, false
	}
	if rec.CommitHash == "" {
		return Record{}, false
	}
	return rec, true
}
