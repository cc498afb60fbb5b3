package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/webitel/im-chat-delivery/internal/domain/model"
	_ "modernc.org/sqlite"
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite. Timestamps are stored as UTC unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath and applies the schema.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		last_active INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_active ON users(last_active);

	CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user1_id INTEGER NOT NULL,
		user2_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_pair
		ON chats(min(user1_id, user2_id), max(user1_id, user2_id));

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		username TEXT,
		user_id INTEGER,
		chat_id INTEGER,
		type TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(recipient_id, is_read);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg model.Message) (int64, error) {
	if err := msg.Validate(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (content, username, user_id, chat_id, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.Content, msg.Username, msg.UserID, msg.ChatID, string(msg.Kind), msg.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) QueryMessagesAfter(ctx context.Context, afterID int64, chatID *int64) ([]model.Message, error) {
	const cols = `SELECT id, content, username, user_id, chat_id, type, created_at FROM messages`

	var (
		rows *sql.Rows
		err  error
	)
	if chatID == nil {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE id > ? AND chat_id IS NULL ORDER BY id`, afterID)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE id > ? AND chat_id = ? ORDER BY id`, afterID, *chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m         model.Message
			username  sql.NullString
			userID    sql.NullInt64
			chat      sql.NullInt64
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.Content, &username, &userID, &chat, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if username.Valid {
			m.Username = &username.String
		}
		if userID.Valid {
			m.UserID = &userID.Int64
		}
		if chat.Valid {
			m.ChatID = &chat.Int64
		}
		m.Kind = model.MessageKind(kind)
		m.CreatedAt = fromNanos(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username string, at time.Time) (model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return model.User{}, fmt.Errorf("username is empty: %w", model.ErrInvalidArgument)
	}

	ts := at.UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, last_active, created_at) VALUES (?, ?, ?)`,
		username, ts, ts,
	)
	if isUniqueViolation(err) {
		return model.User{}, fmt.Errorf("username %q: %w", username, model.ErrConflict)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("user id: %w", err)
	}
	return model.User{ID: id, Username: username, LastActive: fromNanos(ts), CreatedAt: fromNanos(ts)}, nil
}

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var (
		u                     model.User
		lastActive, createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &lastActive, &createdAt); err != nil {
		return model.User{}, err
	}
	u.LastActive = fromNanos(lastActive)
	u.CreatedAt = fromNanos(createdAt)
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, last_active, created_at FROM users WHERE id = ?`, userID)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("scan user row: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) TouchUser(ctx context.Context, userID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_active = ? WHERE id = ?`, at.UTC().UnixNano(), userID)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListActiveUsers(ctx context.Context, since time.Time) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, last_active, created_at FROM users
		WHERE last_active >= ? ORDER BY last_active DESC, id`, since.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func scanChat(row interface{ Scan(...any) error }) (model.Conversation, error) {
	var (
		c         model.Conversation
		createdAt int64
	)
	if err := row.Scan(&c.ID, &c.UserA, &c.UserB, &createdAt); err != nil {
		return model.Conversation{}, err
	}
	c.CreatedAt = fromNanos(createdAt)
	return c, nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID int64) (model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user1_id, user2_id, created_at FROM chats WHERE id = ?`, chatID)

	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, fmt.Errorf("chat %d: %w", chatID, model.ErrNotFound)
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("scan chat row: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) FindChatBetween(ctx context.Context, userA, userB int64) (model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user1_id, user2_id, created_at FROM chats
		WHERE (user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)
		LIMIT 1`, userA, userB, userB, userA)

	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, fmt.Errorf("chat between %d and %d: %w", userA, userB, model.ErrNotFound)
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("scan chat row: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, userA, userB int64, at time.Time) (model.Conversation, error) {
	if userA == userB {
		return model.Conversation{}, fmt.Errorf("chat with oneself: %w", model.ErrInvalidArgument)
	}

	ts := at.UTC().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (user1_id, user2_id, created_at) VALUES (?, ?, ?)`, userA, userB, ts)
	if isUniqueViolation(err) {
		return model.Conversation{}, fmt.Errorf("chat between %d and %d: %w", userA, userB, model.ErrConflict)
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("insert chat: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Conversation{}, fmt.Errorf("chat id: %w", err)
	}
	return model.Conversation{ID: id, UserA: userA, UserB: userB, CreatedAt: fromNanos(ts)}, nil
}

func (s *SQLiteStore) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	ts := n.CreatedAt.UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (recipient_id, chat_id, type, is_read, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.RecipientID, n.ChatID, string(n.Kind), n.Read, ts,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("insert notification: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Notification{}, fmt.Errorf("notification id: %w", err)
	}
	n.ID = id
	n.CreatedAt = fromNanos(ts)
	return n, nil
}

func (s *SQLiteStore) MarkNotificationsRead(ctx context.Context, userID, chatID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1
		WHERE recipient_id = ? AND chat_id = ? AND is_read = 0`, userID, chatID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UnreadNotificationChats(ctx context.Context, userID int64) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.user1_id, c.user2_id, c.created_at
		FROM chats c JOIN notifications n ON n.chat_id = c.id
		WHERE n.recipient_id = ? AND n.is_read = 0
		ORDER BY c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unread chats: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}
