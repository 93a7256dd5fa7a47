package persistence

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/braidflow/braid/pkg/api"
)

// SQLiteStore is a SnapshotStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements SnapshotStore.
var _ SnapshotStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			record BLOB,
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) SaveRun(snap *RunSnapshot) error {
	record, err := EncodeRecord(snap.Record)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, workflow_name, status, record, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_name = excluded.workflow_name,
			status = excluded.status,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		snap.RunID,
		snap.Workflow,
		string(snap.Status),
		record,
		snap.Record.Timestamp,
	)
	return err
}

func (s *SQLiteStore) GetRun(runID string) (*RunSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow_name, status, record
		FROM runs
		WHERE id = ?`,
		runID,
	)

	snap, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return snap, err
}

func (s *SQLiteStore) ListRuns(filter RunFilter) ([]*RunSnapshot, error) {
	query := `
		SELECT id, workflow_name, status, record
		FROM runs`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		clauses = append(clauses, "workflow_name = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*RunSnapshot
	for rows.Next() {
		snap, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

func scanRun(scan func(dest ...any) error) (*RunSnapshot, error) {
	var snap RunSnapshot
	var statusStr string
	var record []byte

	if err := scan(&snap.RunID, &snap.Workflow, &statusStr, &record); err != nil {
		return nil, err
	}
	snap.Status = api.RunStatus(statusStr)

	rec, err := DecodeRecord(record)
	if err != nil {
		return nil, err
	}
	snap.Record = rec
	return &snap, nil
}
