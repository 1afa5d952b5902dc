// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides request/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS requests (
			id           TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			admin_id     TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			category     TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (status IN ('open', 'accepted', 'closed')),
			-- Open requests have no admin; accepted ones always do. Closed
			-- rows keep whatever was set: empty after a requester cancel,
			-- the responder after a claimed request is closed.
			CHECK (status <> 'open' OR admin_id = ''),
			CHECK (status <> 'accepted' OR admin_id <> '')
		);

		CREATE INDEX IF NOT EXISTS idx_requests_status_created
			ON requests(status, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_requests_requester
			ON requests(requester_id);

		CREATE TABLE IF NOT EXISTS messages (
			id               TEXT PRIMARY KEY,
			sender_id        TEXT NOT NULL,
			receiver_id      TEXT NOT NULL,
			conversation_key TEXT NOT NULL,
			body             TEXT NOT NULL,
			dedup_token      TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_key, created_at DESC, id DESC);

		-- Idempotent retries: one accepted append per (sender, token)
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_dedup
			ON messages(sender_id, dedup_token) WHERE dedup_token <> '';
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateRequest inserts a new chat request.
func (s *SQLiteStore) CreateRequest(ctx context.Context, req *ChatRequest) error {
	query := `
		INSERT INTO requests (id, requester_id, admin_id, status, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		req.ID,
		req.RequesterID,
		req.AdminID,
		string(req.Status),
		req.Category,
		req.CreatedAt.UTC().Format(sqliteTimeFormat),
		req.UpdatedAt.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}

	s.logger.Debug("created request", "id", req.ID, "requester", req.RequesterID, "category", req.Category)
	return nil
}

// GetRequest retrieves a request by ID.
// Returns ErrNotFound if the request doesn't exist.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*ChatRequest, error) {
	query := `
		SELECT id, requester_id, admin_id, status, category, created_at, updated_at
		FROM requests
		WHERE id = ?
	`

	req, err := scanRequest(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying request: %w", err)
	}
	return req, nil
}

// UpdateRequestStatus performs a guarded status transition. The UPDATE carries
// the expected current status in its WHERE clause, so concurrent writers are
// linearized at the database: exactly one guarded update can move a request
// out of a given status. RowsAffected discriminates the winner from losers.
func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id string, from, to Status, adminID string) (*ChatRequest, error) {
	query := `
		UPDATE requests
		SET status = ?,
		    admin_id = CASE WHEN ? <> '' THEN ? ELSE admin_id END,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(to),
		adminID, adminID,
		time.Now().UTC().Format(sqliteTimeFormat),
		id,
		string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("updating request status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Guard failed or request missing; a follow-up read tells which.
		if _, err := s.GetRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStatusConflict
	}

	s.logger.Debug("updated request status", "id", id, "from", from, "to", to, "admin_id", adminID)
	return s.GetRequest(ctx, id)
}

// ListRequests returns requests with the given status, newest-created first.
func (s *SQLiteStore) ListRequests(ctx context.Context, status Status, category string, limit int) ([]*ChatRequest, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, requester_id, admin_id, status, category, created_at, updated_at
		FROM requests
		WHERE status = ? AND (? = '' OR category = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(status), category, category, limit)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer rows.Close()

	var requests []*ChatRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating requests: %w", err)
	}
	return requests, nil
}

// AppendMessage stores a new message. A reused (sender, dedup_token) pair
// trips the partial unique index and is reported as ErrDuplicateSend.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, sender_id, receiver_id, conversation_key, body, dedup_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.ConversationKey,
		msg.Body,
		msg.DedupToken,
		msg.CreatedAt.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSend
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_key", msg.ConversationKey,
		"sender", msg.SenderID)
	return nil
}

// GetMessageByDedupToken returns the message previously accepted for the given
// sender and token.
func (s *SQLiteStore) GetMessageByDedupToken(ctx context.Context, senderID, token string) (*Message, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	query := `
		SELECT id, sender_id, receiver_id, conversation_key, body, dedup_token, created_at
		FROM messages
		WHERE sender_id = ? AND dedup_token = ?
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, senderID, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by dedup token: %w", err)
	}
	return msg, nil
}

// ListMessages returns a page of messages for a conversation, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationKey string, limit int, beforeCursor string) ([]*Message, string, error) {
	if limit <= 0 {
		limit = 50
	}

	args := []any{conversationKey}
	query := `
		SELECT id, sender_id, receiver_id, conversation_key, body, dedup_token, created_at
		FROM messages
		WHERE conversation_key = ?
	`
	if beforeCursor != "" {
		createdAt, id, err := decodeCursor(beforeCursor)
		if err != nil {
			return nil, "", err
		}
		ts := createdAt.UTC().Format(sqliteTimeFormat)
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, ts, ts, id)
	}
	// Fetch one extra row to learn whether an older page exists
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating messages: %w", err)
	}

	var nextCursor string
	if len(msgs) > limit {
		msgs = msgs[:limit]
		last := msgs[len(msgs)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return msgs, nextCursor, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*ChatRequest, error) {
	var req ChatRequest
	var status, createdAtStr, updatedAtStr string

	if err := row.Scan(
		&req.ID,
		&req.RequesterID,
		&req.AdminID,
		&status,
		&req.Category,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	req.Status = Status(status)

	var err error
	req.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	req.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &req, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var createdAtStr string

	if err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.ConversationKey,
		&msg.Body,
		&msg.DedupToken,
		&createdAtStr,
	); err != nil {
		return nil, err
	}

	var err error
	msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}
