package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// AppendOnlyLog define the min operations for WAL.
// Implementations should guarantee ordering and durability
// of appended events and be concurrent-safe.
type AppendOnlyLog interface {
	Append(ctx context.Context, events ...Event) error
	Flush(ctx context.Context) error
	Close() error
}

// FileLog is a JSON-lines AppendOnlyLog.
type FileLog struct {
	file *os.File
	wrt  *bufio.Writer
	enc  *json.Encoder

	path   string
	closed bool
	mu     sync.Mutex
}

const DefaultBufSize = 64 * 1024
const MaxScanBufSize = 6 * 1024 * 1024

func NewFileLog(path string) (*FileLog, error) {
	if path == "" {
		return nil, errors.New("wal: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open file: %w", err)
	}
	wrt := bufio.NewWriterSize(f, DefaultBufSize)
	return &FileLog{
		file: f,
		wrt:  wrt,
		enc:  json.NewEncoder(wrt),
		path: path,
	}, nil
}

// Append buffers events. Call Flush to make them durable.
func (fl *FileLog) Append(ctx context.Context, evs ...Event) error {
	if len(evs) == 0 {
		return nil
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		return errors.New("wal: append to closed log")
	}
	for _, ev := range evs {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Encode terminates every value with '\n'
		if err := fl.enc.Encode(ev); err != nil {
			return fmt.Errorf("wal: write ev: %w", err)
		}
	}
	return nil
}

func (fl *FileLog) Flush(ctx context.Context) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fl.wrt.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

func (fl *FileLog) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		return nil
	}
	fl.closed = true

	var errs []error
	if err := fl.wrt.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("wal: flush: %w", err))
	}
	if err := fl.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("wal: fsync: %w", err))
	}
	if err := fl.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("wal: close: %w", err))
	}
	return errors.Join(errs...)
}

func (fl *FileLog) Path() string {
	return fl.path
}

// Replay calls fn for every event stored at path, in append order.
// A missing file replays nothing. A torn last line (crash while writing)
// ends the replay without error.
func Replay(ctx context.Context, path string, fn func(Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("wal: replay open: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, DefaultBufSize), MaxScanBufSize)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev := Event{}
		if err := json.Unmarshal(line, &ev); err != nil {
			var se *json.SyntaxError
			if errors.As(err, &se) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("wal: decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("wal: scan: %w", err)
	}
	return nil
}

// ReadAll collects every event stored at path.
func ReadAll(ctx context.Context, path string) ([]Event, error) {
	var evs []Event
	err := Replay(ctx, path, func(ev Event) error {
		evs = append(evs, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evs, nil
}
