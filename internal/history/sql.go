package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/EXCurryBar/mybot/internal/models"
)

// SQLStore keeps history in the chat_messages table.
type SQLStore struct {
	db     *sql.DB
	window int
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, window int) *SQLStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &SQLStore{db: db, window: window, now: time.Now}
}

// Append inserts the message and trims the session back to the window in one transaction.
func (s *SQLStore) Append(ctx context.Context, key string, role models.Role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin append", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (session_key, role, content, created_at) VALUES (?, ?, ?, ?)`,
		key, string(role), content, s.now().UTC(),
	); err != nil {
		return unavailable("insert message", err)
	}

	// newest id that no longer fits in the window
	var cutoff int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM chat_messages WHERE session_key = ? ORDER BY id DESC LIMIT 1 OFFSET ?`,
		key, s.window,
	).Scan(&cutoff)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return unavailable("find window cutoff", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chat_messages WHERE session_key = ? AND id <= ?`, key, cutoff,
		); err != nil {
			return unavailable("trim history", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit append", err)
	}
	return nil
}

func (s *SQLStore) Read(ctx context.Context, key string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, role, content, created_at
		FROM chat_messages
		WHERE session_key = ?
		ORDER BY id DESC
		LIMIT ?`, key, s.window)
	if err != nil {
		return nil, unavailable("query history", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var (
			m    models.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.SessionKey, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, unavailable("scan history", err)
		}
		m.Role = models.Role(role)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate history", err)
	}
	reverse(msgs)
	return msgs, nil
}
