// Package journal keeps a local SQLite record of completed interview turns.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chadiek/interview-agent/internal/conversation"
)

const schema = `
	CREATE TABLE IF NOT EXISTS turns (
		conversationId TEXT NOT NULL,
		messageId TEXT NOT NULL,
		questionIndex INTEGER NOT NULL,
		query TEXT NOT NULL,
		answer TEXT NOT NULL,
		auxiliaryText TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		createdAt REAL NOT NULL,
		recordedAt REAL NOT NULL,
		PRIMARY KEY (conversationId, messageId)
	);
	CREATE INDEX IF NOT EXISTS turns_by_recorded ON turns (recordedAt);
`

// Entry is one journaled turn.
type Entry struct {
	ConversationID string              `json:"conversation_id"`
	MessageID      string              `json:"message_id"`
	QuestionIndex  int                 `json:"question_index"`
	Query          string              `json:"query"`
	Answer         string              `json:"answer"`
	AuxiliaryText  string              `json:"auxiliary_text,omitempty"`
	Status         conversation.Status `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	RecordedAt     time.Time           `json:"recorded_at"`
}

// Summary describes a journaled conversation.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Turns          int       `json:"turns"`
	LastAt         time.Time `json:"last_at"`
}

// Store is the journal database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns the default journal location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "interview", "journal.sqlite")
}

// Open opens or creates the journal at path. ":memory:" opens a private
// in-memory journal.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores turn as answered at questionIndex. Recording the same message
// again replaces the earlier row.
func (s *Store) Record(ctx context.Context, turn conversation.Turn, questionIndex int) error {
	if turn.ConversationID == "" || turn.ID == "" {
		return fmt.Errorf("record turn: conversation and message id required")
	}
	status := turn.Status
	if status == "" {
		status = conversation.StatusNormal
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (conversationId, messageId, questionIndex, query, answer, auxiliaryText, status, createdAt, recordedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversationId, messageId) DO UPDATE SET
			questionIndex = excluded.questionIndex,
			query = excluded.query,
			answer = excluded.answer,
			auxiliaryText = excluded.auxiliaryText,
			status = excluded.status,
			recordedAt = excluded.recordedAt
	`, turn.ConversationID, turn.ID, questionIndex, turn.Query, turn.Answer, turn.AuxiliaryText,
		string(status), unixFromTime(turn.CreatedAt), unixFromTime(s.now()))
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// Turns returns the journaled turns of a conversation in the order recorded.
func (s *Store) Turns(ctx context.Context, conversationID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversationId, messageId, questionIndex, query, answer, auxiliaryText, status, createdAt, recordedAt
		FROM turns
		WHERE conversationId = ?
		ORDER BY recordedAt ASC, questionIndex ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var status string
		var createdAt, recordedAt float64
		if err := rows.Scan(&e.ConversationID, &e.MessageID, &e.QuestionIndex, &e.Query,
			&e.Answer, &e.AuxiliaryText, &status, &createdAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		e.Status = conversation.Status(status)
		e.CreatedAt = timeFromUnix(createdAt)
		e.RecordedAt = timeFromUnix(recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Conversations lists journaled conversations, most recent first.
func (s *Store) Conversations(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversationId, COUNT(*), MAX(recordedAt)
		FROM turns
		GROUP BY conversationId
		ORDER BY MAX(recordedAt) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var lastAt float64
		if err := rows.Scan(&sum.ConversationID, &sum.Turns, &lastAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.LastAt = timeFromUnix(lastAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func unixFromTime(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
