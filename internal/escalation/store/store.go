package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	apperrors "github.com/vigildash/vigil/internal/errors"
	"github.com/vigildash/vigil/internal/escalation"
	_ "modernc.org/sqlite"
)

// Config configures the SQLite escalation store.
type Config struct {
	DataDir string // Directory for escalations.db
}

// Store persists escalation records, their action logs and comment streams
// in SQLite. The action and comment tables are append-only; record rows
// carry a version column that every update must match, so two concurrent
// transitions on the same record resolve to one winner and one conflict.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the escalation database under cfg.DataDir.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "escalations.db")

	// Open database with pragmas in DSN so every pool connection is configured
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open escalation database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("dbPath", dbPath).Msg("Escalation store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS escalations (
		id TEXT PRIMARY KEY,
		asset_ref TEXT NOT NULL,
		inspection_ref TEXT NOT NULL,
		scheduled_date INTEGER NOT NULL,
		severity TEXT NOT NULL,
		level INTEGER NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT,
		notes TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		resolved_at INTEGER,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);
	CREATE INDEX IF NOT EXISTS idx_escalations_severity ON escalations(severity);
	CREATE INDEX IF NOT EXISTS idx_escalations_inspection ON escalations(inspection_ref);
	CREATE INDEX IF NOT EXISTS idx_escalations_assigned ON escalations(assigned_to) WHERE assigned_to != '';

	CREATE TABLE IF NOT EXISTS escalation_actions (
		id TEXT PRIMARY KEY,
		escalation_id TEXT NOT NULL REFERENCES escalations(id),
		type TEXT NOT NULL,
		actor TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_actions_escalation ON escalation_actions(escalation_id);

	CREATE TABLE IF NOT EXISTS escalation_comments (
		id TEXT PRIMARY KEY,
		escalation_id TEXT NOT NULL REFERENCES escalations(id),
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_comments_escalation ON escalation_comments(escalation_id);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err = s.db.Exec(`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`,
		time.Now().Unix())
	return err
}

// Insert writes a new record with its initial action log.
func (s *Store) Insert(e *escalation.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO escalations (id, asset_ref, inspection_ref, scheduled_date, severity, level, status, assigned_to, notes, created_at, updated_at, resolved_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.AssetReference,
		e.InspectionReference,
		e.ScheduledDate.Unix(),
		string(e.Severity),
		int(e.Level),
		string(e.Status),
		e.AssignedTo,
		e.Notes,
		e.CreatedAt.Unix(),
		e.UpdatedAt.Unix(),
		nullableUnix(e.ResolvedAt),
		e.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}

	if err := insertActions(tx, e.ID, e.Actions); err != nil {
		return err
	}
	if err := insertComments(tx, e.ID, e.Comments); err != nil {
		return err
	}

	return tx.Commit()
}

// Get loads a record with its full action and comment history.
func (s *Store) Get(id string) (*escalation.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, asset_ref, inspection_ref, scheduled_date, severity, level, status, assigned_to, notes, created_at, updated_at, resolved_at, version
		FROM escalations WHERE id = ?`, id)

	e, err := scanEscalation(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.WrapNotFound("get", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation: %w", err)
	}

	if e.Actions, err = s.loadActions(id); err != nil {
		return nil, err
	}
	if e.Comments, err = s.loadComments(id); err != nil {
		return nil, err
	}

	return e, nil
}

// FindActiveByInspection returns the non-resolved record tracking the given
// inspection reference, or nil when no active cycle exists.
func (s *Store) FindActiveByInspection(inspectionRef string) (*escalation.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, asset_ref, inspection_ref, scheduled_date, severity, level, status, assigned_to, notes, created_at, updated_at, resolved_at, version
		FROM escalations WHERE inspection_ref = ? AND status != ? LIMIT 1`,
		inspectionRef, string(escalation.StatusResolved))

	e, err := scanEscalation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active escalation: %w", err)
	}
	return e, nil
}

// Update persists a transitioned record. The row must still be at
// expectedVersion; a mismatch means another writer got there first and
// surfaces as a conflict without touching the row. New actions and comments
// commit in the same transaction as the record itself.
func (s *Store) Update(e *escalation.Escalation, expectedVersion int, newActions []escalation.Action, newComments []escalation.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE escalations
		SET level = ?, status = ?, assigned_to = ?, notes = ?, updated_at = ?, resolved_at = ?, version = ?
		WHERE id = ? AND version = ?`,
		int(e.Level),
		string(e.Status),
		e.AssignedTo,
		e.Notes,
		e.UpdatedAt.Unix(),
		nullableUnix(e.ResolvedAt),
		e.Version,
		e.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update escalation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM escalations WHERE id = ?`, e.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check escalation existence: %w", err)
		}
		if exists == 0 {
			return apperrors.WrapNotFound("update", e.ID)
		}
		return apperrors.WrapConflict("update", e.ID)
	}

	if err := insertActions(tx, e.ID, newActions); err != nil {
		return err
	}
	if err := insertComments(tx, e.ID, newComments); err != nil {
		return err
	}

	return tx.Commit()
}

// List retrieves records matching the filter's stored fields. Actions and
// comments are not loaded; list views only need the record heads.
func (s *Store) List(f escalation.Filter) ([]*escalation.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, asset_ref, inspection_ref, scheduled_date, severity, level, status, assigned_to, notes, created_at, updated_at, resolved_at, version
		FROM escalations WHERE 1=1`
	args := []interface{}{}

	if f.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(f.Severity))
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.AssignedTo != "" {
		query += " AND assigned_to = ?"
		args = append(args, f.AssignedTo)
	}
	if f.Search != "" {
		query += " AND (asset_ref LIKE ? OR inspection_ref LIKE ?)"
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}

	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	defer rows.Close()

	var records []*escalation.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		records = append(records, e)
	}

	return records, rows.Err()
}

// Close shuts down the store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close escalation database: %w", err)
	}
	log.Info().Msg("Escalation store closed")
	return nil
}

func (s *Store) loadActions(escalationID string) ([]escalation.Action, error) {
	rows, err := s.db.Query(`
		SELECT id, type, actor, timestamp, payload
		FROM escalation_actions WHERE escalation_id = ?
		ORDER BY timestamp ASC, id ASC`, escalationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []escalation.Action
	for rows.Next() {
		var a escalation.Action
		var ts int64
		var payload sql.NullString

		if err := rows.Scan(&a.ID, &a.Type, &a.Actor, &ts, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.Timestamp = time.Unix(ts, 0).UTC()
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &a.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode action payload: %w", err)
			}
		}
		actions = append(actions, a)
	}

	return actions, rows.Err()
}

func (s *Store) loadComments(escalationID string) ([]escalation.Comment, error) {
	rows, err := s.db.Query(`
		SELECT id, author, body, timestamp
		FROM escalation_comments WHERE escalation_id = ?
		ORDER BY timestamp ASC, id ASC`, escalationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []escalation.Comment
	for rows.Next() {
		var c escalation.Comment
		var ts int64

		if err := rows.Scan(&c.ID, &c.Author, &c.Text, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.Timestamp = time.Unix(ts, 0).UTC()
		comments = append(comments, c)
	}

	return comments, rows.Err()
}

func insertActions(tx *sql.Tx, escalationID string, actions []escalation.Action) error {
	for _, a := range actions {
		var payload interface{}
		if len(a.Payload) > 0 {
			data, err := json.Marshal(a.Payload)
			if err != nil {
				return fmt.Errorf("failed to encode action payload: %w", err)
			}
			payload = string(data)
		}
		_, err := tx.Exec(`
			INSERT INTO escalation_actions (id, escalation_id, type, actor, timestamp, payload)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, escalationID, string(a.Type), a.Actor, a.Timestamp.Unix(), payload)
		if err != nil {
			return fmt.Errorf("failed to insert action: %w", err)
		}
	}
	return nil
}

func insertComments(tx *sql.Tx, escalationID string, comments []escalation.Comment) error {
	for _, c := range comments {
		_, err := tx.Exec(`
			INSERT INTO escalation_comments (id, escalation_id, author, body, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, escalationID, c.Author, c.Text, c.Timestamp.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEscalation(row rowScanner) (*escalation.Escalation, error) {
	var e escalation.Escalation
	var scheduled, created, updated int64
	var resolved sql.NullInt64
	var assigned, notes sql.NullString

	err := row.Scan(&e.ID, &e.AssetReference, &e.InspectionReference, &scheduled,
		&e.Severity, &e.Level, &e.Status, &assigned, &notes, &created, &updated, &resolved, &e.Version)
	if err != nil {
		return nil, err
	}

	e.ScheduledDate = time.Unix(scheduled, 0).UTC()
	e.CreatedAt = time.Unix(created, 0).UTC()
	e.UpdatedAt = time.Unix(updated, 0).UTC()
	if resolved.Valid {
		t := time.Unix(resolved.Int64, 0).UTC()
		e.ResolvedAt = &t
	}
	e.AssignedTo = assigned.String
	e.Notes = notes.String

	return &e, nil
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
