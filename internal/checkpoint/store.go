package checkpoint

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	name          TEXT NOT NULL,
	model         BLOB NOT NULL,
	created_at    TEXT NOT NULL,
	metrics_json  TEXT,
	FOREIGN KEY (parent_id) REFERENCES checkpoints(version_id)
);

CREATE INDEX IF NOT EXISTS checkpoints_name ON checkpoints(name);

CREATE TABLE IF NOT EXISTS latest_checkpoint (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES checkpoints(version_id)
);
`

// #endregion schema

// #region record
// Record is one stored checkpoint. Each write chains to the previous latest
// checkpoint through ParentID.
type Record struct {
	VersionID   string
	ParentID    string
	Name        string
	Model       []byte
	CreatedAt   time.Time
	MetricsJSON string
}

// #endregion record

// #region store-struct
// Store keeps versioned checkpoints in SQLite.
type Store struct {
	db *sql.DB
}

var _ Writer = (*Store)(nil)

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle so a decision log can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region write
// Write inserts a checkpoint as a child of the latest one and moves the
// latest pointer to it atomically.
func (s *Store) Write(name string, model []byte, metricsJSON string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT version_id FROM latest_checkpoint WHERE id = 1`).Scan(&parent)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("get latest: %w", err)
	}

	var parentPtr interface{}
	if parent.Valid {
		parentPtr = parent.String
	}
	var metricsPtr interface{}
	if metricsJSON != "" {
		metricsPtr = metricsJSON
	}

	id := uuid.New().String()
	_, err = tx.Exec(
		`INSERT INTO checkpoints (version_id, parent_id, name, model, created_at, metrics_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, parentPtr, name, model, time.Now().UTC().Format(time.RFC3339Nano), metricsPtr,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO latest_checkpoint (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set latest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion write

// #region reads
// Latest reads the checkpoint the latest pointer refers to.
func (s *Store) Latest() (Record, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM latest_checkpoint WHERE id = 1`).Scan(&versionID)
	if err != nil {
		return Record{}, fmt.Errorf("get latest: %w", err)
	}
	return s.Get(versionID)
}

// Get retrieves a checkpoint by version ID.
func (s *Store) Get(id string) (Record, error) {
	row := s.db.QueryRow(
		`SELECT version_id, parent_id, name, model, created_at, metrics_json
		 FROM checkpoints WHERE version_id = ?`, id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	return rec, nil
}

// GetByName retrieves the most recent checkpoint written under name.
func (s *Store) GetByName(name string) (Record, error) {
	row := s.db.QueryRow(
		`SELECT version_id, parent_id, name, model, created_at, metrics_json
		 FROM checkpoints WHERE name = ? ORDER BY rowid DESC LIMIT 1`, name,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("get checkpoint named %s: %w", name, err)
	}
	return rec, nil
}

// List returns the most recent checkpoints, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT version_id, parent_id, name, model, created_at, metrics_json
		 FROM checkpoints ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Restore points latest at an earlier checkpoint.
func (s *Store) Restore(versionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM checkpoints WHERE version_id = ?`, versionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check checkpoint: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("checkpoint %s not found", versionID)
	}

	_, err = s.db.Exec(`UPDATE latest_checkpoint SET version_id = ? WHERE id = 1`, versionID)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	return nil
}

// #endregion reads

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var rec Record
	var parentID sql.NullString
	var createdStr string
	var metricsJSON sql.NullString

	if err := sc.Scan(&rec.VersionID, &parentID, &rec.Name, &rec.Model, &createdStr, &metricsJSON); err != nil {
		return Record{}, err
	}
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	if metricsJSON.Valid {
		rec.MetricsJSON = metricsJSON.String
	}
	return rec, nil
}

// #endregion scan
