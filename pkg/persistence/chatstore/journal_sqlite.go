package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/chatsync"
)

type SQLiteJournal struct {
	db *sql.DB
}

var _ FrameJournal = &SQLiteJournal{}

func NewSQLiteJournal(dsn string) (*SQLiteJournal, error) {
	if dsn == "" {
		return nil, errors.New("sqlite journal: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteJournal{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteJournal) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteJournal) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite journal: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journal_frames (
		  conv_id TEXT NOT NULL,
		  seq INTEGER NOT NULL,
		  epoch INTEGER NOT NULL,
		  kind TEXT NOT NULL,
		  source TEXT NOT NULL,
		  recorded_at_ms INTEGER NOT NULL,
		  frame_json TEXT NOT NULL,
		  PRIMARY KEY (conv_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS journal_conversations (
		  conv_id TEXT PRIMARY KEY,
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL,
		  frame_count INTEGER NOT NULL DEFAULT 0,
		  last_epoch INTEGER NOT NULL DEFAULT 0,
		  status TEXT NOT NULL DEFAULT 'active',
		  last_error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS journal_conversations_by_last_activity
		  ON journal_conversations(last_activity_ms DESC, conv_id ASC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite journal: migrate")
		}
	}
	return nil
}

func (s *SQLiteJournal) Append(ctx context.Context, convID string, f chatsync.Frame) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite journal: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("sqlite journal: convID is empty")
	}
	if f.Kind == "" {
		return errors.New("sqlite journal: frame kind is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	epoch, err := uint64ToInt64(f.Epoch)
	if err != nil {
		return errors.Wrap(err, "sqlite journal: epoch overflow")
	}
	frameJSON, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "sqlite journal: marshal frame")
	}
	now := time.Now().UnixMilli()
	status, lastErr := frameOutcome(f)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM journal_frames WHERE conv_id = ?`, convID).Scan(&current); err != nil {
		return errors.Wrap(err, "sqlite journal: read sequence")
	}
	seq := current + 1

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO journal_frames(conv_id, seq, epoch, kind, source, recorded_at_ms, frame_json)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, convID, seq, epoch, string(f.Kind), string(f.Source), now, string(frameJSON)); err != nil {
		return errors.Wrap(err, "sqlite journal: insert frame")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO journal_conversations (
			conv_id, created_at_ms, last_activity_ms, frame_count, last_epoch, status, last_error
		) VALUES (?, ?, ?, ?, ?, CASE WHEN ? <> '' THEN ? ELSE 'active' END, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > journal_conversations.last_activity_ms THEN excluded.last_activity_ms
				ELSE journal_conversations.last_activity_ms
			END,
			frame_count = excluded.frame_count,
			last_epoch = CASE
				WHEN excluded.last_epoch > journal_conversations.last_epoch THEN excluded.last_epoch
				ELSE journal_conversations.last_epoch
			END,
			status = CASE
				WHEN ? <> '' THEN excluded.status
				ELSE journal_conversations.status
			END,
			last_error = CASE
				WHEN excluded.last_error <> '' THEN excluded.last_error
				ELSE journal_conversations.last_error
			END
	`, convID, now, now, seq, epoch, status, status, lastErr, status); err != nil {
		return errors.Wrap(err, "sqlite journal: upsert conversation")
	}

	return tx.Commit()
}

func (s *SQLiteJournal) Load(ctx context.Context, convID string, sinceSeq uint64, limit int) ([]FrameRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite journal: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("sqlite journal: convID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	since, err := uint64ToInt64(sinceSeq)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT seq, recorded_at_ms, frame_json
		FROM journal_frames
		WHERE conv_id = ? AND seq > ?
		ORDER BY seq ASC
	`
	args := []any{convID, since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite journal: query frames")
	}
	defer func() { _ = rows.Close() }()

	records := make([]FrameRecord, 0, 128)
	for rows.Next() {
		var (
			seq int64
			rec FrameRecord
			raw string
		)
		if err := rows.Scan(&seq, &rec.RecordedAtMs, &raw); err != nil {
			return nil, err
		}
		if rec.Seq, err = int64ToUint64(seq); err != nil {
			return nil, errors.Wrap(err, "sqlite journal: invalid seq")
		}
		if err := json.Unmarshal([]byte(raw), &rec.Frame); err != nil {
			return nil, errors.Wrapf(err, "sqlite journal: unmarshal frame %d", seq)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

const conversationColumns = `conv_id, created_at_ms, last_activity_ms, frame_count, last_epoch, status, last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (ConversationRecord, error) {
	var (
		record     ConversationRecord
		frameCount int64
		lastEpoch  int64
	)
	if err := r.Scan(
		&record.ConvID,
		&record.CreatedAtMs,
		&record.LastActivityMs,
		&frameCount,
		&lastEpoch,
		&record.Status,
		&record.LastError,
	); err != nil {
		return ConversationRecord{}, err
	}
	var err error
	if record.FrameCount, err = int64ToUint64(frameCount); err != nil {
		return ConversationRecord{}, err
	}
	if record.LastEpoch, err = int64ToUint64(lastEpoch); err != nil {
		return ConversationRecord{}, err
	}
	if record.Status == "" {
		record.Status = "active"
	}
	return record, nil
}

func (s *SQLiteJournal) GetConversation(ctx context.Context, convID string) (ConversationRecord, bool, error) {
	if s == nil || s.db == nil {
		return ConversationRecord{}, false, errors.New("sqlite journal: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return ConversationRecord{}, false, errors.New("sqlite journal: convID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	record, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM journal_conversations WHERE conv_id = ?`, convID))
	if errors.Is(err, sql.ErrNoRows) {
		return ConversationRecord{}, false, nil
	}
	if err != nil {
		return ConversationRecord{}, false, errors.Wrap(err, "sqlite journal: get conversation")
	}
	return record, true, nil
}

func (s *SQLiteJournal) ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite journal: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT ` + conversationColumns + ` FROM journal_conversations`
	args := make([]any, 0, 2)
	if sinceMs > 0 {
		query += ` WHERE last_activity_ms >= ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY last_activity_ms DESC, conv_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite journal: list conversations")
	}
	defer func() { _ = rows.Close() }()

	records := make([]ConversationRecord, 0, limit)
	for rows.Next() {
		record, err := scanConversation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite journal: scan conversation")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite journal: iterate conversations")
	}
	return records, nil
}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout for a database file.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite journal: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errors.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}

func int64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, errors.Errorf("value %d cannot be represented as uint64", v)
	}
	return uint64(v), nil
}
