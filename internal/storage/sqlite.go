package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	_ "github.com/mattn/go-sqlite3"

	"jremap/internal/mapping"
	"jremap/internal/signature"
)

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ VersionStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates or opens a SQLite database. Every transaction takes
// the write lock up front, so concurrent writers to one version queue up
// instead of racing for the next revision number.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS mappings (
			version TEXT NOT NULL,
			revision INTEGER NOT NULL,
			parent TEXT NOT NULL DEFAULT '',
			provenance TEXT NOT NULL DEFAULT '',
			resolved INTEGER NOT NULL,
			unresolved INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			body BLOB NOT NULL,
			PRIMARY KEY (version, revision)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			version TEXT NOT NULL,
			revision INTEGER NOT NULL,
			body BLOB NOT NULL,
			PRIMARY KEY (version, revision)
		);`,
		`CREATE TRIGGER IF NOT EXISTS mappings_no_update BEFORE UPDATE ON mappings
		BEGIN SELECT RAISE(ABORT, 'mappings are append-only'); END;`,
		`CREATE TRIGGER IF NOT EXISTS mappings_no_delete BEFORE DELETE ON mappings
		BEGIN SELECT RAISE(ABORT, 'mappings are append-only'); END;`,
		`CREATE TRIGGER IF NOT EXISTS snapshots_no_update BEFORE UPDATE ON snapshots
		BEGIN SELECT RAISE(ABORT, 'snapshots are append-only'); END;`,
		`CREATE TRIGGER IF NOT EXISTS snapshots_no_delete BEFORE DELETE ON snapshots
		BEGIN SELECT RAISE(ABORT, 'snapshots are append-only'); END;`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, version string, m *mapping.Mapping, snapshot *signature.Table) (int, error) {
	if version == "" {
		return 0, errors.New("put: empty version")
	}
	if m == nil {
		return 0, errors.New("put: nil mapping")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var revision int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision), 0) FROM mappings WHERE version = ?`, version).Scan(&revision); err != nil {
		return 0, fmt.Errorf("failed to read revision of %s: %w", version, err)
	}
	revision++

	stored := m.Clone()
	stored.Version, stored.Revision = version, revision
	body, err := mapping.Marshal(stored)
	if err != nil {
		return 0, err
	}
	created := s.now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mappings (version, revision, parent, provenance, resolved, unresolved, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, version, revision, stored.Parent, stored.Provenance, stored.Resolved(), len(stored.Unresolved), created, body); err != nil {
		return 0, fmt.Errorf("failed to insert mapping %s@%d: %w", version, revision, err)
	}

	if snapshot != nil {
		data, err := snapshot.Marshal()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots (version, revision, body) VALUES (?, ?, ?)`, version, revision, data); err != nil {
			return 0, fmt.Errorf("failed to insert snapshot %s@%d: %w", version, revision, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{
		"version":  version,
		"revision": revision,
		"snapshot": snapshot != nil,
	}).Debug("mapping stored")
	return revision, nil
}

const recordQuery = `
	SELECT m.version, m.revision, m.parent, m.provenance, m.created_at, m.body, s.body
	FROM mappings m
	LEFT JOIN snapshots s ON s.version = m.version AND s.revision = m.revision
`

func (s *SQLiteStore) record(ctx context.Context, what, where string, args ...any) (*Record, error) {
	row := s.db.QueryRowContext(ctx, recordQuery+where, args...)

	var r Record
	var created string
	var body, snap []byte
	if err := row.Scan(&r.Version, &r.Revision, &r.Parent, &r.Provenance, &created, &body, &snap); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan %s: %w", what, err)
	}
	var err error
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("%s: created_at: %w", what, err)
	}
	if r.Mapping, err = mapping.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if snap != nil {
		if r.Snapshot, err = signature.UnmarshalTable(snap); err != nil {
			return nil, fmt.Errorf("%s: snapshot: %w", what, err)
		}
	}
	return &r, nil
}

func (s *SQLiteStore) Get(ctx context.Context, version string) (*Record, error) {
	return s.record(ctx, "mapping "+version, `WHERE m.version = ? ORDER BY m.revision DESC LIMIT 1`, version)
}

func (s *SQLiteStore) GetRevision(ctx context.Context, version string, revision int) (*Record, error) {
	return s.record(ctx, fmt.Sprintf("mapping %s@%d", version, revision),
		`WHERE m.version = ? AND m.revision = ?`, version, revision)
}

func (s *SQLiteStore) Head(ctx context.Context) (*Record, error) {
	return s.record(ctx, "head mapping", `ORDER BY m.rowid DESC LIMIT 1`)
}

func (s *SQLiteStore) Revisions(ctx context.Context, version string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, revision, parent, provenance, resolved, unresolved, created_at
		FROM mappings WHERE version = ? ORDER BY revision
	`, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		var created string
		if err := rows.Scan(&r.Version, &r.Revision, &r.Parent, &r.Provenance, &r.Resolved, &r.Unresolved, &created); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mapping %s: %w", version, ErrNotFound)
	}
	return out, nil
}

func (s *SQLiteStore) Versions(ctx context.Context) ([]VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, COUNT(*), MAX(created_at), MAX(rowid) AS last
		FROM mappings GROUP BY version ORDER BY last
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		var v VersionInfo
		var updated string
		var last int64
		if err := rows.Scan(&v.Version, &v.Revisions, &updated, &last); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		if v.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
