// Package store keeps anonymous usage statistics in sqlite. Message text is
// never stored.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edibez/cryptochat/pkg/types"
)

// Store handles usage statistics
type Store struct {
	db *sql.DB
}

// IntentStats aggregates the turns of one intent
type IntentStats struct {
	Intent      types.Intent  `json:"intent"`
	Turns       int64         `json:"turns"`
	Failures    int64         `json:"failures"`
	AvgDuration time.Duration `json:"avg_duration"`
	LastSeen    time.Time     `json:"last_seen"`
}

// Summary is the usage report
type Summary struct {
	Sessions int64         `json:"sessions"`
	Turns    int64         `json:"turns"`
	Intents  []IntentStats `json:"intents"`
}

// NewStore opens (and creates) the stats database at dbPath
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	// sqlite allows one writer; turns are recorded from many goroutines
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			outcome TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_intent ON turns(intent);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create stats tables: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordTurn stores one finished turn
func (s *Store) RecordTurn(ctx context.Context, t types.TurnRecord) error {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO turns (session_id, intent, outcome, duration_ms, at) VALUES (?, ?, ?, ?, ?)",
		t.SessionID, string(t.Intent), t.Outcome, t.Duration.Milliseconds(), t.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// Summary reports totals per intent, busiest intent first
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT session_id), COUNT(*) FROM turns",
	).Scan(&sum.Sessions, &sum.Turns)
	if err != nil {
		return nil, fmt.Errorf("count turns: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT intent,
			COUNT(*),
			SUM(CASE WHEN outcome = 'done' THEN 0 ELSE 1 END),
			AVG(duration_ms),
			MAX(at)
		FROM turns
		GROUP BY intent
		ORDER BY COUNT(*) DESC, intent ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("summarize turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st       IntentStats
			intent   string
			avgMS    float64
			lastSeen string
		)
		if err := rows.Scan(&intent, &st.Turns, &st.Failures, &avgMS, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan intent stats: %w", err)
		}
		st.Intent = types.Intent(intent)
		st.AvgDuration = time.Duration(avgMS * float64(time.Millisecond))
		st.LastSeen = parseTime(lastSeen)
		sum.Intents = append(sum.Intents, st)
	}
	return sum, rows.Err()
}

// MAX() loses the column type, so the driver hands back the stored text
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
