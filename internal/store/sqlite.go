package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/autostream-chat/internal/domain"
	"github.com/ashureev/autostream-chat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		intent_level TEXT NOT NULL,
		selected_plan TEXT,
		lead_name TEXT,
		lead_email TEXT,
		lead_platform TEXT,
		youtube_link TEXT,
		show_youtube_analysis INTEGER NOT NULL DEFAULT 0,
		current_question TEXT,
		is_submitted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_client ON chat_sessions(client_id, position);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		message_id TEXT NOT NULL,
		type TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveSession upserts the session row and inserts new messages. Stored
// messages are never rewritten.
func (s *SQLiteStore) SaveSession(ctx context.Context, clientID string, position int, session domain.Session) error {
	return shared.RetryOnConflict(ctx, "save session "+session.ID, s.retry, func(ctx context.Context) error {
		return s.saveSessionOnce(ctx, clientID, position, session)
	})
}

func (s *SQLiteStore) saveSessionOnce(ctx context.Context, clientID string, position int, session domain.Session) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
	INSERT INTO chat_sessions (
		session_id, client_id, position, title, intent_level, selected_plan,
		lead_name, lead_email, lead_platform, youtube_link, show_youtube_analysis,
		current_question, is_submitted, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		position = excluded.position,
		title = excluded.title,
		intent_level = excluded.intent_level,
		selected_plan = excluded.selected_plan,
		lead_name = excluded.lead_name,
		lead_email = excluded.lead_email,
		lead_platform = excluded.lead_platform,
		youtube_link = excluded.youtube_link,
		show_youtube_analysis = excluded.show_youtube_analysis,
		current_question = excluded.current_question,
		is_submitted = excluded.is_submitted,
		updated_at = excluded.updated_at
	WHERE chat_sessions.client_id = excluded.client_id`

	var plan, question interface{}
	if session.SelectedPlan != nil {
		plan = string(*session.SelectedPlan)
	}
	if session.CurrentQuestion != nil {
		question = string(*session.CurrentQuestion)
	}

	if _, err = tx.ExecContext(ctx, query,
		session.ID, clientID, position, session.Title, string(session.IntentLevel), plan,
		nullable(session.LeadInfo.Name), nullable(session.LeadInfo.Email), nullable(session.LeadInfo.Platform),
		nullable(session.YouTubeLink), session.ShowYouTubeAnalysis,
		question, session.IsSubmitted,
		session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if len(session.Messages) > 0 {
		stmt, prepErr := tx.PrepareContext(ctx, `
		INSERT INTO chat_messages (session_id, seq, message_id, type, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING`)
		if prepErr != nil {
			err = fmt.Errorf("prepare message insert: %w", prepErr)
			return err
		}
		defer func() {
			if closeErr := stmt.Close(); closeErr != nil {
				slog.Warn("failed to close message statement", "error", closeErr)
			}
		}()

		for i, m := range session.Messages {
			if _, err = stmt.ExecContext(ctx,
				session.ID, i, m.ID, string(m.Type), string(m.Sender), m.Content, m.Timestamp.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert message %d: %w", i, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// LoadSessions returns a client's sessions with their messages.
func (s *SQLiteStore) LoadSessions(ctx context.Context, clientID string) ([]domain.Session, error) {
	query := `
		SELECT session_id, title, intent_level, selected_plan,
		       lead_name, lead_email, lead_platform, youtube_link, show_youtube_analysis,
		       current_question, is_submitted, created_at, updated_at
		FROM chat_sessions WHERE client_id = ?
		ORDER BY position, created_at`

	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []domain.Session
	for rows.Next() {
		var (
			sess                          domain.Session
			intent                        string
			plan, question                sql.NullString
			name, email, platform, ytLink sql.NullString
			createdAt, updatedAt          int64
		)
		if err := rows.Scan(
			&sess.ID, &sess.Title, &intent, &plan,
			&name, &email, &platform, &ytLink, &sess.ShowYouTubeAnalysis,
			&question, &sess.IsSubmitted, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		sess.IntentLevel = domain.IntentLevel(intent)
		if plan.Valid {
			sess.SelectedPlan = domain.Ref(domain.Plan(plan.String))
		}
		if question.Valid {
			sess.CurrentQuestion = domain.Ref(domain.Question(question.String))
		}
		sess.LeadInfo = domain.LeadInfo{
			Name:     fromNullable(name),
			Email:    fromNullable(email),
			Platform: fromNullable(platform),
		}
		sess.YouTubeLink = fromNullable(ytLink)
		sess.CreatedAt = time.UnixMilli(createdAt)
		sess.UpdatedAt = time.UnixMilli(updatedAt)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for i := range sessions {
		msgs, err := s.loadMessages(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = msgs
	}
	return sessions, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, type, sender, content, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m         domain.Message
			typ, from string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &typ, &from, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Type = domain.MessageType(typ)
		m.Sender = domain.Sender(from)
		m.Timestamp = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// DeleteClient removes a client's history and returns the number of sessions deleted.
func (s *SQLiteStore) DeleteClient(ctx context.Context, clientID string) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, "delete client "+clientID, s.retry, func(ctx context.Context) error {
		n, err := s.deleteWhere(ctx, `client_id = ?`, clientID)
		deleted = n
		return err
	})
	return deleted, err
}

// CleanupExpired removes sessions whose last update is older than ttl.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var deleted int64
	err := shared.RetryOnConflict(ctx, "cleanup expired sessions", s.retry, func(ctx context.Context) error {
		n, err := s.deleteWhere(ctx, `updated_at < ?`, threshold)
		deleted = n
		return err
	})
	return deleted, err
}

// deleteWhere removes matching sessions together with their messages.
func (s *SQLiteStore) deleteWhere(ctx context.Context, cond string, arg interface{}) (n int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE session_id IN (SELECT session_id FROM chat_sessions WHERE `+cond+`)`, arg,
	); err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE `+cond, arg)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return n, nil
}

func nullable(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func fromNullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return domain.Ref(v.String)
}
