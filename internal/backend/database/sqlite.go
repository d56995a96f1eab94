package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jo-hoe/tgforge/internal/quality"

	_ "modernc.org/sqlite"
)

const auditColumns = `id, path, width, height, aspect, sharpness, brightness, contrast,
	clip_low, clip_high, edge_density, decision, reasons, audited_at, rank`

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting into one database per pooled connection.
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS audits (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		aspect REAL NOT NULL,
		sharpness REAL NOT NULL,
		brightness REAL NOT NULL,
		contrast REAL NOT NULL,
		clip_low REAL NOT NULL,
		clip_high REAL NOT NULL,
		edge_density REAL NOT NULL,
		decision TEXT NOT NULL,
		reasons TEXT NOT NULL,
		audited_at TEXT NOT NULL,
		rank TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_audits_decision_rank ON audits (decision, rank)`); err != nil {
		return nil, err
	}

	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) SaveAudit(record *AuditRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("audit record requires an id")
	}
	reasons, err := json.Marshal(nonNilReasons(record.Reasons))
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rank, err := s.rankFor(tx, record.ID, record.Decision)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO audits (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			width = excluded.width,
			height = excluded.height,
			aspect = excluded.aspect,
			sharpness = excluded.sharpness,
			brightness = excluded.brightness,
			contrast = excluded.contrast,
			clip_low = excluded.clip_low,
			clip_high = excluded.clip_high,
			edge_density = excluded.edge_density,
			decision = excluded.decision,
			reasons = excluded.reasons,
			audited_at = excluded.audited_at,
			rank = excluded.rank`,
		record.ID, record.Path, record.Width, record.Height, record.Aspect,
		record.Sharpness, record.Brightness, record.Contrast,
		record.ClipLow, record.ClipHigh, record.EdgeDensity,
		string(record.Decision), string(reasons),
		record.AuditedAt.UTC().Format(time.RFC3339Nano), rank)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	record.Rank = rank
	return nil
}

// rankFor keeps the queue position of records already in review, appends
// records newly entering review and clears the rank for everything else.
func (s *SQLiteDatabase) rankFor(tx *sql.Tx, id string, decision quality.Decision) (string, error) {
	if decision != quality.Review {
		return "", nil
	}

	var currentDecision, currentRank string
	err := tx.QueryRow("SELECT decision, rank FROM audits WHERE id = ?", id).Scan(&currentDecision, &currentRank)
	switch {
	case err == nil && quality.Decision(currentDecision) == quality.Review && currentRank != "":
		return currentRank, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	var last sql.NullString
	if err := tx.QueryRow("SELECT MAX(rank) FROM audits WHERE decision = ?", string(quality.Review)).Scan(&last); err != nil {
		return "", err
	}
	return Next(last.String), nil
}

func (s *SQLiteDatabase) GetAudit(id string) (*AuditRecord, error) {
	row := s.db.QueryRow("SELECT "+auditColumns+" FROM audits WHERE id = ?", id)
	record, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

func (s *SQLiteDatabase) ListAudits(decision quality.Decision) ([]*AuditRecord, error) {
	if decision == "" {
		return s.queryAudits("SELECT " + auditColumns + " FROM audits ORDER BY path, id")
	}
	return s.queryAudits("SELECT "+auditColumns+" FROM audits WHERE decision = ? ORDER BY path, id", string(decision))
}

func (s *SQLiteDatabase) DeleteAudit(id string) error {
	res, err := s.db.Exec("DELETE FROM audits WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLiteDatabase) CountByDecision() (map[quality.Decision]int, error) {
	rows, err := s.db.Query("SELECT decision, COUNT(*) FROM audits GROUP BY decision")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	counts := map[quality.Decision]int{quality.Keep: 0, quality.Review: 0, quality.Reject: 0}
	for rows.Next() {
		var decision string
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, err
		}
		counts[quality.Decision(decision)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteDatabase) ReviewQueue() ([]*AuditRecord, error) {
	return s.queryAudits("SELECT "+auditColumns+" FROM audits WHERE decision = ? ORDER BY rank, id", string(quality.Review))
}

func (s *SQLiteDatabase) MoveReview(id string, direction Direction) error {
	if direction != Up && direction != Down {
		return fmt.Errorf("invalid direction %q", direction)
	}

	queue, err := s.ReviewQueue()
	if err != nil {
		return err
	}

	idx := -1
	existing := make(map[string]string, len(queue))
	order := make([]string, len(queue))
	for i, r := range queue {
		existing[r.ID] = r.Rank
		order[i] = r.ID
		if r.ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	target := idx - 1
	if direction == Down {
		target = idx + 1
	}
	if target < 0 || target >= len(order) {
		// already at the edge of the queue
		return nil
	}
	order[idx], order[target] = order[target], order[idx]

	updates := Reorder(existing, order)
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for rid, rank := range updates {
		if _, err := tx.Exec("UPDATE audits SET rank = ? WHERE id = ?", rank, rid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) SetDecision(id string, decision quality.Decision) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rank, err := s.rankFor(tx, id, decision)
	if err != nil {
		return err
	}
	res, err := tx.Exec("UPDATE audits SET decision = ?, rank = ? WHERE id = ?", string(decision), rank, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteDatabase) queryAudits(query string, args ...any) ([]*AuditRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	var records []*AuditRecord
	for rows.Next() {
		record, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudit(row rowScanner) (*AuditRecord, error) {
	var r AuditRecord
	var decision, reasons, auditedAt string
	err := row.Scan(&r.ID, &r.Path, &r.Width, &r.Height, &r.Aspect,
		&r.Sharpness, &r.Brightness, &r.Contrast,
		&r.ClipLow, &r.ClipHigh, &r.EdgeDensity,
		&decision, &reasons, &auditedAt, &r.Rank)
	if err != nil {
		return nil, err
	}
	r.Decision = quality.Decision(decision)
	if err := json.Unmarshal([]byte(reasons), &r.Reasons); err != nil {
		return nil, fmt.Errorf("failed to decode reasons for %s: %w", r.ID, err)
	}
	if r.AuditedAt, err = time.Parse(time.RFC3339Nano, auditedAt); err != nil {
		return nil, fmt.Errorf("failed to parse audited_at for %s: %w", r.ID, err)
	}
	return &r, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilReasons(reasons []string) []string {
	if reasons == nil {
		return []string{}
	}
	return reasons
}
