package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

// ErrReportNotFound is returned by GetReport for an unknown id.
var ErrReportNotFound = errors.New("report not found")

// ReportDB keeps the history of finalized sessions in SQLite.
type ReportDB struct {
	db *sql.DB
}

// NewReportDB opens dbPath and creates the schema if needed.
func NewReportDB(dbPath string) (*ReportDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL,
		finalize_trigger TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		participants TEXT NOT NULL,
		sections INTEGER NOT NULL,
		artifacts INTEGER NOT NULL,
		word_count INTEGER NOT NULL,
		summary TEXT,
		transcript TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reports_ended_at ON reports(ended_at);
	CREATE INDEX IF NOT EXISTS idx_reports_session_key ON reports(session_key);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &ReportDB{db: db}, nil
}

// SaveReport inserts or replaces the row for r.ID.
func (rdb *ReportDB) SaveReport(ctx context.Context, r types.Report) error {
	participants, err := json.Marshal(r.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO reports (id, session_key, finalize_trigger, started_at, ended_at, participants, sections, artifacts, word_count, summary, transcript)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = rdb.db.ExecContext(ctx, query, r.ID, r.SessionKey, r.Trigger,
		r.StartedAt.UnixNano(), r.EndedAt.UnixNano(), string(participants),
		r.Sections, r.Artifacts, r.WordCount, r.Summary, r.Transcript)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

const reportColumns = `id, session_key, finalize_trigger, started_at, ended_at, participants, sections, artifacts, word_count, summary`

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner, extra ...any) (types.Report, error) {
	var (
		r              types.Report
		started, ended int64
		participants   string
		summary        sql.NullString
	)
	dest := append([]any{&r.ID, &r.SessionKey, &r.Trigger, &started, &ended, &participants,
		&r.Sections, &r.Artifacts, &r.WordCount, &summary}, extra...)
	if err := row.Scan(dest...); err != nil {
		return types.Report{}, err
	}
	r.StartedAt = time.Unix(0, started)
	r.EndedAt = time.Unix(0, ended)
	r.Summary = summary.String
	if err := json.Unmarshal([]byte(participants), &r.Participants); err != nil {
		return types.Report{}, fmt.Errorf("decoding participants: %w", err)
	}
	return r, nil
}

// GetReport retrieves one report including its transcript.
func (rdb *ReportDB) GetReport(ctx context.Context, id string) (types.Report, error) {
	row := rdb.db.QueryRowContext(ctx, `SELECT `+reportColumns+`, transcript FROM reports WHERE id = ?`, id)

	var transcript sql.NullString
	r, err := scanReport(row, &transcript)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Report{}, ErrReportNotFound
	}
	if err != nil {
		return types.Report{}, fmt.Errorf("failed to get report: %w", err)
	}
	r.Transcript = transcript.String
	return r, nil
}

// ListReports returns the newest reports first, without transcripts.
func (rdb *ReportDB) ListReports(ctx context.Context, limit int) ([]types.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := rdb.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]types.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Close closes the database connection
func (rdb *ReportDB) Close() error {
	return rdb.db.Close()
}
