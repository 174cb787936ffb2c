// Package history persists CLI conversation turns in a local SQLite file so
// that chat invocations can resume prior context.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/podtech-ai/tabichan-go/tabichan"
)

// Message is one stored conversation turn.
type Message struct {
	bun.BaseModel `bun:"table:messages"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    string    `bun:"user_id,notnull"`
	Role      string    `bun:"role,notnull"`
	Content   string    `bun:"content,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// Store is a bun-backed conversation store.
type Store struct {
	sqldb *sql.DB
	db    *bun.DB
}

// Open initializes the database at path, creating the schema if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite handles a single writer; avoid pool contention.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := db.NewCreateTable().
		Model((*Message)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{sqldb: sqldb, db: db}, nil
}

// Append records conversation turns for a user, oldest first.
func (s *Store) Append(ctx context.Context, userID string, msgs ...tabichan.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, Message{
			UserID:    userID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: now,
		})
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to limit turns for a user, oldest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]tabichan.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []Message
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	msgs := make([]tabichan.ChatMessage, len(rows))
	for i, row := range rows {
		// Reverse so the conversation reads oldest first.
		msgs[len(rows)-1-i] = tabichan.ChatMessage{Role: row.Role, Content: row.Content}
	}
	return msgs, nil
}

// Clear removes all stored turns for a user.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.NewDelete().
		Model((*Message)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Users lists the user IDs with stored history.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.NewSelect().
		Model((*Message)(nil)).
		ColumnExpr("DISTINCT user_id").
		Order("user_id").
		Scan(ctx, &users)
	if err != nil {
		return nil, fmt.Errorf("list history users: %w", err)
	}
	return users, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close history db: %w", err)
	}
	return nil
}
