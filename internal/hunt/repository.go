package hunt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// Repository 封装数据库访问，所有方法可并发调用。
type Repository struct {
	db  *bun.DB
	now func() time.Time
}

// Option 调整 Repository 的可选行为。
type Option func(*Repository)

// WithClock 注入时钟，便于测试比赛时间窗口。
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// Open 打开（必要时创建）SQLite 数据库并建表。
func Open(ctx context.Context, path string, opts ...Option) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path required")
	}
	sqlDB, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite 单写者，单连接避免 "database is locked" 在进程内出现。
	sqlDB.SetMaxOpenConns(1)

	repo := &Repository{
		db:  bun.NewDB(sqlDB, sqlitedialect.New()),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(repo)
	}

	if err := repo.createTables(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

func buildDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
}

func (r *Repository) createTables(ctx context.Context) error {
	for _, model := range models {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", model, err)
		}
	}
	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*User)(nil), "users_event_idx", []string{"event"}},
		{(*Question)(nil), "questions_event_idx", []string{"event", "question_number"}},
	}
	for _, idx := range indexes {
		if _, err := r.db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Close 关闭数据库连接。
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// DB 暴露底层 bun.DB，供诊断与测试使用。
func (r *Repository) DB() *bun.DB {
	return r.db
}

func (r *Repository) nowMillis() int64 {
	return r.now().UnixMilli()
}

// retryOptions 只重试 SQLite 的锁冲突，其余错误立即返回。
func retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(300 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isDatabaseLocked),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

func withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn, retryOptions(ctx)...)
}

func isDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// uniqueColumn 从 "UNIQUE constraint failed: users.email" 中取出列名。
func uniqueColumn(err error) string {
	msg := err.Error()
	idx := strings.LastIndex(msg, "UNIQUE constraint failed: ")
	if idx < 0 {
		return ""
	}
	rest := msg[idx+len("UNIQUE constraint failed: "):]
	if end := strings.IndexAny(rest, " ,)"); end >= 0 {
		rest = rest[:end]
	}
	if dot := strings.LastIndex(rest, "."); dot >= 0 {
		rest = rest[dot+1:]
	}
	return rest
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Now 返回 Repository 使用的当前时间。
func (r *Repository) Now() time.Time {
	return r.now()
}
