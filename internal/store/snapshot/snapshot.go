package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
)

const CurrentVersion = 1

// Snapshot is the full task set of a file store at one point in time.
type Snapshot struct {
	Version int `json:"version"`

	Tasks []*core.Task `json:"tasks"`

	CreatedAt time.Time `json:"created_at"`
}

// Write persists the snapshot to the path, through a temp file + rename.
func Write(ctx context.Context, path string, ss *Snapshot) (err error) {
	switch {
	case ss == nil:
		return errors.New("snapshot: got nil snapshot")
	case path == "":
		return errors.New("snapshot: required path")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("snapshot: open tmp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(ss); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("snapshot: fsync: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("snapshot: rename tmp: %w", err)
	}
	return nil
}

// Read loads a snapshot from disk. A missing file gives nil, nil.
func Read(ctx context.Context, path string) (*Snapshot, error) {
	if path == "" {
		return nil, errors.New("snapshot: required path")
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()

	ss := Snapshot{}
	if err := json.NewDecoder(f).Decode(&ss); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if ss.Version > CurrentVersion {
		return nil, fmt.Errorf("snapshot: version %d is newer than %d", ss.Version, CurrentVersion)
	}
	return &ss, nil
}
