package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	schemaMu sync.Mutex
	ready    bool
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository and initializes its schema.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers alongside the single writer.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.EnsureConnected(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// EnsureConnected pings the database and creates the schema on first use.
func (s *SQLiteStore) EnsureConnected(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if s.ready {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := s.initSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	s.ready = true
	return nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		company_status TEXT NOT NULL DEFAULT '',
		industry_sector TEXT NOT NULL DEFAULT '',
		company_size TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		mode TEXT NOT NULL CHECK (mode IN ('personal', 'community')),
		attributes TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_user_mode ON threads(user_id, mode);
	CREATE INDEX IF NOT EXISTS idx_threads_mode_updated ON threads(mode, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		thread_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		sender_type TEXT NOT NULL CHECK (sender_type IN ('user', 'ai')),
		content TEXT NOT NULL,
		citations TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, seq);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);

	CREATE TABLE IF NOT EXISTS community_doubts (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_doubts_thread ON community_doubts(thread_id, created_at);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
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

// ValidID reports whether id is a UUID.
func (s *SQLiteStore) ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// execWithRetry runs a write statement, retrying with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) execWithRetry(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%s: %w", op, lastErr)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// CreateUser inserts a user and assigns its ID.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	user.Email = domain.NormalizeEmail(user.Email)

	_, err := s.execWithRetry(ctx, "insert user", `
		INSERT INTO users (id, email, password_hash, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.Name,
		toNanos(user.CreatedAt), toNanos(user.UpdatedAt),
	)
	if shared.IsSQLiteUniqueError(err) {
		return ErrDuplicate
	}
	return err
}

const userColumns = `id, email, password_hash, name, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var createdAt, updatedAt int64
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.CreatedAt = fromNanos(createdAt)
	user.UpdatedAt = fromNanos(updatedAt)
	return &user, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, domain.NormalizeEmail(email))
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// UpdateUserName sets the display name of a user.
func (s *SQLiteStore) UpdateUserName(ctx context.Context, userID, name string) error {
	result, err := s.execWithRetry(ctx, "update user name",
		`UPDATE users SET name = ?, updated_at = ? WHERE id = ?`,
		name, toNanos(time.Now()), userID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// GetProfile retrieves the profile of a user.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, company_status, industry_sector, company_size, created_at, updated_at
		FROM profiles WHERE user_id = ?`, userID)

	var p domain.Profile
	var createdAt, updatedAt int64
	err := row.Scan(&p.UserID, &p.CompanyStatus, &p.IndustrySector, &p.CompanySize, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	return &p, nil
}

// UpsertProfile creates or updates a profile. created_at is kept from the first insert.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *domain.Profile) error {
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	_, err := s.execWithRetry(ctx, "upsert profile", `
		INSERT INTO profiles (user_id, company_status, industry_sector, company_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			company_status = excluded.company_status,
			industry_sector = excluded.industry_sector,
			company_size = excluded.company_size,
			updated_at = excluded.updated_at`,
		profile.UserID, profile.CompanyStatus, profile.IndustrySector, profile.CompanySize,
		toNanos(profile.CreatedAt), toNanos(profile.UpdatedAt),
	)
	return err
}

// InsertThread inserts a thread and assigns its ID.
func (s *SQLiteStore) InsertThread(ctx context.Context, thread *domain.Thread) error {
	if !s.ValidID(thread.UserID) {
		return ErrInvalidID
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = thread.CreatedAt
	}

	var attributes any
	if len(thread.Attributes) > 0 {
		data, err := json.Marshal(thread.Attributes)
		if err != nil {
			return fmt.Errorf("encode thread attributes: %w", err)
		}
		attributes = string(data)
	}

	_, err := s.execWithRetry(ctx, "insert thread", `
		INSERT INTO threads (id, user_id, title, mode, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		thread.ID, thread.UserID, thread.Title, string(thread.Mode), attributes,
		toNanos(thread.CreatedAt), toNanos(thread.UpdatedAt),
	)
	return err
}

const threadColumns = `id, user_id, title, mode, attributes, created_at, updated_at`

func scanThread(row interface{ Scan(...any) error }) (*domain.Thread, error) {
	var t domain.Thread
	var mode string
	var attributes sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &mode, &attributes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Mode = domain.ThreadMode(mode)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	if attributes.Valid && attributes.String != "" {
		if err := json.Unmarshal([]byte(attributes.String), &t.Attributes); err != nil {
			return nil, fmt.Errorf("decode thread attributes: %w", err)
		}
	}
	return &t, nil
}

// FindThread retrieves a thread by ID.
func (s *SQLiteStore) FindThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	if !s.ValidID(threadID) {
		return nil, ErrInvalidID
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, threadID)
	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread row: %w", err)
	}
	return thread, nil
}

// ListThreads returns threads matching filter, most recently updated first.
func (s *SQLiteStore) ListThreads(ctx context.Context, filter domain.ThreadFilter) ([]*domain.Thread, error) {
	var conds []string
	var args []any
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Mode != "" {
		conds = append(conds, "mode = ?")
		args = append(args, string(filter.Mode))
	}

	query := `SELECT ` + threadColumns + ` FROM threads`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit, DefaultThreadLimit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close thread rows", "error", closeErr)
		}
	}()

	threads := make([]*domain.Thread, 0)
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return threads, nil
}

// TouchThread sets the thread's updated_at. It never moves the marker backwards.
func (s *SQLiteStore) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	result, err := s.execWithRetry(ctx, "touch thread",
		`UPDATE threads SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		toNanos(at), threadID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// InsertMessage inserts a message and assigns its ID.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if !s.ValidID(msg.ThreadID) || !s.ValidID(msg.UserID) {
		return ErrInvalidID
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var citations any
	if msg.Citations != nil {
		data, err := json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("encode citations: %w", err)
		}
		citations = string(data)
	}

	_, err := s.execWithRetry(ctx, "insert message", `
		INSERT INTO messages (id, thread_id, user_id, sender_type, content, citations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.UserID, string(msg.SenderType), msg.Content, citations,
		toNanos(msg.CreatedAt),
	)
	return err
}

// ListMessages returns the thread's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, user_id, sender_type, content, citations, created_at
		FROM messages WHERE thread_id = ?
		ORDER BY seq ASC LIMIT ?`,
		threadID, limitOrDefault(limit, DefaultMessageLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var sender string
		var citations sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &sender, &m.Content, &citations, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.SenderType = domain.SenderType(sender)
		m.CreatedAt = fromNanos(createdAt)
		m.Citations = []domain.Citation{}
		if citations.Valid && citations.String != "" && citations.String != "null" {
			if err := json.Unmarshal([]byte(citations.String), &m.Citations); err != nil {
				return nil, fmt.Errorf("decode citations: %w", err)
			}
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// InsertDoubt inserts a community doubt and assigns its ID.
func (s *SQLiteStore) InsertDoubt(ctx context.Context, doubt *domain.CommunityDoubt) error {
	if !s.ValidID(doubt.ThreadID) || !s.ValidID(doubt.UserID) {
		return ErrInvalidID
	}
	if doubt.ID == "" {
		doubt.ID = uuid.NewString()
	}
	if doubt.CreatedAt.IsZero() {
		doubt.CreatedAt = time.Now().UTC()
	}

	_, err := s.execWithRetry(ctx, "insert community doubt", `
		INSERT INTO community_doubts (id, thread_id, user_id, question, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		doubt.ID, doubt.ThreadID, doubt.UserID, doubt.Question, toNanos(doubt.CreatedAt),
	)
	return err
}

// ListDoubts returns doubts newest first, optionally restricted to one thread.
func (s *SQLiteStore) ListDoubts(ctx context.Context, threadID string, limit int) ([]*domain.CommunityDoubt, error) {
	query := `SELECT id, thread_id, user_id, question, created_at FROM community_doubts`
	var args []any
	if threadID != "" {
		query += ` WHERE thread_id = ?`
		args = append(args, threadID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(limit, DefaultDoubtLimit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query community doubts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close community doubt rows", "error", closeErr)
		}
	}()

	doubts := make([]*domain.CommunityDoubt, 0)
	for rows.Next() {
		var d domain.CommunityDoubt
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.ThreadID, &d.UserID, &d.Question, &createdAt); err != nil {
			return nil, fmt.Errorf("scan community doubt row: %w", err)
		}
		d.CreatedAt = fromNanos(createdAt)
		doubts = append(doubts, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate community doubts: %w", err)
	}
	return doubts, nil
}

func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
