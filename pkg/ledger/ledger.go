// Package ledger persists the shared daily call budget and the UI settings
// record in a single SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// DefaultSettingsID keys the single settings row the chat UI reads and
// writes when no explicit user id is supplied.
const DefaultSettingsID = "default"

// Settings is the free-form record behind GET/POST /api/settings.
type Settings struct {
	ID       string
	HeroText string
	APIKey   string
}

type Store struct {
	db  *sql.DB
	sql sq.StatementBuilderType
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent admissions.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS usage_days (
    day TEXT PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS settings (
    id TEXT PRIMARY KEY,
    hero_text TEXT NOT NULL DEFAULT '',
    api_key TEXT NOT NULL DEFAULT ''
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DayKey renders t as the UTC calendar-date key used by the usage table.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Admit reserves one call against day's budget. The admit-and-increment is a
// single conditional UPDATE, so two concurrent requests near the limit can
// never both get through. When admitted is false the stored count is
// untouched. remaining is the budget left after this call.
func (s *Store) Admit(ctx context.Context, day string, limit int) (admitted bool, remaining int, err error) {
	if limit <= 0 {
		return false, 0, nil
	}
	ins := s.sql.Insert("usage_days").
		Columns("day", "count").
		Values(day, 0).
		Suffix("ON CONFLICT(day) DO NOTHING")
	sqlStr, args, err := ins.ToSql()
	if err != nil {
		return false, 0, fmt.Errorf("build usage insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return false, 0, fmt.Errorf("ensure usage row: %w", err)
	}

	upd := s.sql.Update("usage_days").
		Set("count", sq.Expr("count + 1")).
		Where(sq.Eq{"day": day}).
		Where(sq.Lt{"count": limit})
	sqlStr, args, err = upd.ToSql()
	if err != nil {
		return false, 0, fmt.Errorf("build usage update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, 0, fmt.Errorf("increment usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("usage rows affected: %w", err)
	}
	count, err := s.Count(ctx, day)
	if err != nil {
		return false, 0, err
	}
	return n > 0, maxInt(0, limit-count), nil
}

// Count returns day's stored call count; a missing row reads as zero.
func (s *Store) Count(ctx context.Context, day string) (int, error) {
	q := s.sql.Select("count").From("usage_days").Where(sq.Eq{"day": day})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build usage count query: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get usage count: %w", err)
	}
	return count, nil
}

// Remaining returns how much of day's budget is left.
func (s *Store) Remaining(ctx context.Context, day string, limit int) (int, error) {
	count, err := s.Count(ctx, day)
	if err != nil {
		return 0, err
	}
	return maxInt(0, limit-count), nil
}

func (s *Store) GetSettings(ctx context.Context, id string) (Settings, bool, error) {
	q := s.sql.Select("id", "hero_text", "api_key").
		From("settings").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Settings{}, false, fmt.Errorf("build settings query: %w", err)
	}
	var out Settings
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&out.ID, &out.HeroText, &out.APIKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Settings{}, false, nil
		}
		return Settings{}, false, fmt.Errorf("get settings: %w", err)
	}
	return out, true, nil
}

func (s *Store) UpsertSettings(ctx context.Context, in Settings) error {
	if in.ID == "" {
		in.ID = DefaultSettingsID
	}
	q := s.sql.Insert("settings").
		Columns("id", "hero_text", "api_key").
		Values(in.ID, in.HeroText, in.APIKey).
		Suffix("ON CONFLICT(id) DO UPDATE SET hero_text=excluded.hero_text, api_key=excluded.api_key")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build settings upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
