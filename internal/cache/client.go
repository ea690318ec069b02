package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL 是视图未声明 TTL 时使用的过期时间。
const DefaultTTL = time.Hour

// NoExpiry 表示条目在被显式失效前一直有效。
const NoExpiry time.Duration = -1

// ClientOptions 控制读穿透缓存的全局行为。
type ClientOptions struct {
	// Enabled 为 false 时所有视图直接调用生产者，既不读也不写缓存。
	Enabled    bool
	DefaultTTL time.Duration
	Logger     logrus.FieldLogger
}

// Invalidator 是变更处理器所需的最小失效接口。
type Invalidator interface {
	Flush(ctx context.Context, keys []string) error
}

// Uncacheable 允许生产者在个别结果上跳过写缓存，例如针对单个用户的提示信息。
type Uncacheable interface {
	NoStore() bool
}

// Client 将 Store、开关与日志组合在一起，被所有 View 共享。
type Client struct {
	store      Store
	enabled    bool
	defaultTTL time.Duration
	logger     logrus.FieldLogger
	group      singleflight.Group
}

// NewClient 构造缓存客户端；store 为空时等同于关闭缓存。
func NewClient(store Store, opts ClientOptions) *Client {
	ttl := opts.DefaultTTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Client{
		store:      store,
		enabled:    opts.Enabled,
		defaultTTL: ttl,
		logger:     logger,
	}
}

// Enabled 返回当前是否具备缓存读写能力。
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.store != nil
}

// DefaultTTL 返回客户端默认过期时间。
func (c *Client) DefaultTTL() time.Duration {
	if c == nil {
		return DefaultTTL
	}
	return c.defaultTTL
}

// Flush 立即失效给定 key，供变更处理器与管理端点使用。缓存关闭时仍会删除磁盘文件。
func (c *Client) Flush(ctx context.Context, keys []string) error {
	if c == nil || c.store == nil || len(keys) == 0 {
		return nil
	}
	err := c.store.InvalidateMany(ctx, keys)
	fields := logrus.Fields{"action": "cache_invalidate", "keys": keys}
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("cache_invalidate_failed")
		return err
	}
	c.logger.WithFields(fields).Debug("cache_invalidated")
	return nil
}

// Invalidate 失效 keys 后原样返回 value，便于在 return 语句中内联。失败只记录日志。
func Invalidate[T any](ctx context.Context, inv Invalidator, value T, keys ...string) T {
	if inv != nil && len(keys) > 0 {
		_ = inv.Flush(ctx, keys)
	}
	return value
}

func (c *Client) ttl(viewTTL time.Duration) time.Duration {
	if viewTTL == 0 {
		return c.defaultTTL
	}
	return viewTTL
}

// lookup 查询缓存；任何读错误都按未命中处理，只记录日志。
func (c *Client) lookup(ctx context.Context, view, key string, ttl time.Duration) (*ReadResult, bool) {
	result, err := c.store.Get(ctx, key, c.ttl(ttl))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WithError(err).WithFields(logrus.Fields{"view": view, "key": key}).Warn("cache_get_failed")
		}
		c.logger.WithFields(logrus.Fields{"view": view, "key": key, "cache_hit": false}).Debug("cache_lookup")
		return nil, false
	}
	c.logger.WithFields(logrus.Fields{"view": view, "key": key, "cache_hit": true}).Debug("cache_lookup")
	return result, true
}

// save 写入生产者结果。ErrBusy 说明另一写入方正在写同一条目，直接放弃。
func (c *Client) save(ctx context.Context, view, key string, value any) error {
	if u, ok := value.(Uncacheable); ok && u.NoStore() {
		return nil
	}
	_, err := c.store.Put(ctx, key, value)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrBusy):
		c.logger.WithFields(logrus.Fields{"view": view, "key": key}).Debug("cache_put_skipped")
		return nil
	default:
		return fmt.Errorf("cache put %s: %w", key, err)
	}
}
