package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
	_ "modernc.org/sqlite"
)

// SQLiteTaskStore keeps tasks in a single sqlite table.
type SQLiteTaskStore struct {
	db *sql.DB
}

const sqliteTimeLayout = time.RFC3339Nano

func NewSQLiteTaskStore(ctx context.Context, path string) (*SQLiteTaskStore, error) {
	if path == "" {
		return nil, errors.New("store: required sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite: %w", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	s := &SQLiteTaskStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteTaskStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			text TEXT NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			due_date TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteTaskStore) CreateTask(ctx context.Context, task *core.Task) error {
	const op = "store.SQLiteTaskStore.CreateTask"
	if task == nil {
		return errors.New("store: required task")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, task.ID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return core.NewTaskConflictError(task.ID, op)
	}
	if err := upsertRow(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteTaskStore) PatchTask(ctx context.Context, id string, p core.Patch, _ time.Time) (*core.Task, error) {
	const op = "store.SQLiteTaskStore.PatchTask"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := scanTask(tx.QueryRowContext(ctx, selectTask+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewTaskNotFoundError(id, op)
	} else if err != nil {
		return nil, err
	}

	t.Apply(p)
	if err := upsertRow(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteTaskStore) DeleteTask(ctx context.Context, id string, _ time.Time) error {
	const op = "store.SQLiteTaskStore.DeleteTask"
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NewTaskNotFoundError(id, op)
	}
	return nil
}

func (s *SQLiteTaskStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	const op = "store.SQLiteTaskStore.GetTask"
	t, err := scanTask(s.db.QueryRowContext(ctx, selectTask+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewTaskNotFoundError(id, op)
	}
	return t, err
}

func (s *SQLiteTaskStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+` WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*core.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	core.SortTasks(res)
	return res, nil
}

// FlushSnapshot checkpoints the sqlite journal.
func (s *SQLiteTaskStore) FlushSnapshot(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

const selectTask = `SELECT id, owner_id, text, completed, created_at, due_date FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*core.Task, error) {
	var (
		t         core.Task
		completed int
		createdAt string
		due       sql.NullString
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Text, &completed, &createdAt, &due); err != nil {
		return nil, err
	}
	t.Completed = completed != 0

	ts, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: bad created_at for %s: %w", t.ID, err)
	}
	t.CreatedAt = ts
	if due.Valid {
		d, err := time.Parse(sqliteTimeLayout, due.String)
		if err != nil {
			return nil, fmt.Errorf("store: bad due_date for %s: %w", t.ID, err)
		}
		t.DueDate = &d
	}
	return &t, nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, t *core.Task) error {
	var due sql.NullString
	if t.DueDate != nil {
		due = sql.NullString{String: t.DueDate.UTC().Format(sqliteTimeLayout), Valid: true}
	}
	completed := 0
	if t.Completed {
		completed = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks (id, owner_id, text, completed, created_at, due_date)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.OwnerID, t.Text, completed, t.CreatedAt.UTC().Format(sqliteTimeLayout), due)
	return err
}
