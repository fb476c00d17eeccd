package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// SQLiteConfig configures a local SQLite-backed store.
type SQLiteConfig struct {
	// Path is a database file path, or ":memory:".
	Path string
}

// SQLiteStore keeps progress records in a local SQLite database. It backs
// single-host deployments (CLI, serve) and tests.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) the database at cfg.Path.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	dsn, err := buildDSN(cfg.Path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	// One connection: an in-memory database is per connection, and a single
	// writer serializes admission without relying on busy retries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping progress store: %w", err)
	}
	if err := configureLocalSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("progress store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir != "." && dir != string(filepath.Separator) {
		// #nosec G301 -- data directories use 0755 for multi-user access compatibility
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create store directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func configureLocalSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS progress_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO progress_meta (id, schema_version, created_at) VALUES (1, ?, ?);`,
		`CREATE TABLE IF NOT EXISTS zip_progress (
			folder TEXT NOT NULL,
			zip_file_name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			progress TEXT NOT NULL,
			zip_error TEXT,
			PRIMARY KEY (folder, zip_file_name)
		);`,
	}

	now := FormatTime(time.Now())
	for i, stmt := range stmts {
		if i == 1 {
			if _, err := s.db.ExecContext(ctx, stmt, schemaVersion, now); err != nil {
				return fmt.Errorf("init schema meta: %w", err)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TryAdmit is one upsert whose update arm only fires when the existing row
// is terminal or stale; a rejected conflict changes zero rows.
func (s *SQLiteStore) TryAdmit(ctx context.Context, k Key, now time.Time) (bool, error) {
	ts := FormatTime(now)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO zip_progress (folder, zip_file_name, created_at, updated_at, progress, zip_error)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(folder, zip_file_name) DO UPDATE SET
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			progress = excluded.progress,
			zip_error = NULL
		WHERE zip_progress.progress IN (?, ?) OR zip_progress.created_at <= ?`,
		k.StoredFolder(), k.ZipFileName, ts, ts, string(StateInitialized),
		string(StateFinalized), string(StateFailed), StaleBefore(now),
	)
	if err != nil {
		return false, fmt.Errorf("progress: admit %s: %w", k, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("progress: admit %s: %w", k, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, k Key, state State, now time.Time) error {
	return s.update(ctx, k, `UPDATE zip_progress SET progress = ?, updated_at = ? WHERE folder = ? AND zip_file_name = ?`,
		string(state), FormatTime(now), k.StoredFolder(), k.ZipFileName)
}

func (s *SQLiteStore) SetFailure(ctx context.Context, k Key, state State, detail string, now time.Time) error {
	return s.update(ctx, k, `UPDATE zip_progress SET progress = ?, updated_at = ?, zip_error = ? WHERE folder = ? AND zip_file_name = ?`,
		string(state), FormatTime(now), detail, k.StoredFolder(), k.ZipFileName)
}

func (s *SQLiteStore) update(ctx context.Context, k Key, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("progress: update %s: %w", k, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("progress: update %s: %w", k, err)
	}
	if n == 0 {
		return fmt.Errorf("progress: update %s: %w", k, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, k Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT folder, zip_file_name, created_at, updated_at, progress, zip_error
		FROM zip_progress WHERE folder = ? AND zip_file_name = ?`,
		k.StoredFolder(), k.ZipFileName)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("progress: get %s: %w", k, err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, folder string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT folder, zip_file_name, created_at, updated_at, progress, zip_error
		FROM zip_progress WHERE folder = ? ORDER BY zip_file_name`,
		StoredFolder(folder))
	if err != nil {
		return nil, fmt.Errorf("progress: list %s: %w", StoredFolder(folder), err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("progress: list %s: %w", StoredFolder(folder), err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("progress: list %s: %w", StoredFolder(folder), err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var rec Record
	var progress string
	var zipErr sql.NullString
	if err := sc.Scan(&rec.Folder, &rec.ZipFileName, &rec.CreatedAt, &rec.UpdatedAt, &progress, &zipErr); err != nil {
		return nil, err
	}
	rec.Progress = State(progress)
	rec.ZipError = zipErr.String
	return &rec, nil
}
