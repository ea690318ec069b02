package cache

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v3"
)

// NoStoreCacheControl 阻止浏览器与中间代理把缓存命中当作静态资源。
const NoStoreCacheControl = "no-store, no-cache, must-revalidate, post-check=0, pre-check=0, max-age=0"

// Producer 是被缓存的业务函数，签名与 View 调用方一致。
type Producer[A, T any] func(ctx context.Context, args A) (T, error)

// ViewOptions 描述单个视图的策略。
type ViewOptions struct {
	// Name 用于日志。
	Name string
	// TTL 为 0 时使用客户端默认值，NoExpiry 表示不过期。
	TTL time.Duration
	// Disabled 仅关闭当前视图的缓存。
	Disabled bool
}

// View 把生产者与 key 策略、TTL 绑定，提供透明的读穿透/写穿透语义。
type View[A, T any] struct {
	client  *Client
	key     Key[A]
	produce Producer[A, T]
	opts    ViewOptions
}

// NewView 构造视图。client 为空时视图总是调用生产者。
func NewView[A, T any](client *Client, key Key[A], produce Producer[A, T], opts ViewOptions) *View[A, T] {
	return &View[A, T]{
		client:  client,
		key:     key,
		produce: produce,
		opts:    opts,
	}
}

// Key 返回 args 对应的缓存 key，变更处理器可据此失效同一条目。
func (v *View[A, T]) Key(args A) string {
	return v.key.Resolve(args)
}

func (v *View[A, T]) enabled() bool {
	return !v.opts.Disabled && v.client.Enabled()
}

// Get 用于 JSON 值缓存：命中时解码返回，调用方无法区分命中与新鲜调用。
func (v *View[A, T]) Get(ctx context.Context, args A) (T, error) {
	if !v.enabled() {
		return v.produce(ctx, args)
	}

	key := v.key.Resolve(args)
	if result, ok := v.client.lookup(ctx, v.opts.Name, key, v.opts.TTL); ok {
		var out T
		err := Decode(result, &out)
		result.Reader.Close()
		if err == nil {
			return out, nil
		}
		v.client.logger.WithError(err).WithField("key", key).Warn("cache_decode_failed")
	}
	return v.load(ctx, key, args)
}

// Serve 用于 HTTP 响应缓存：命中时把正文文件直接写回客户端并附加禁止缓存的头，
// 未命中时调用生产者、写缓存并返回 {"data": ...} 响应。
func (v *View[A, T]) Serve(c fiber.Ctx, args A) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !v.enabled() {
		value, err := v.produce(ctx, args)
		if err != nil {
			return err
		}
		return sendFresh(c, value)
	}

	key := v.key.Resolve(args)
	if result, ok := v.client.lookup(ctx, v.opts.Name, key, v.opts.TTL); ok {
		defer result.Reader.Close()
		return sendCached(c, result)
	}

	value, err := v.load(ctx, key, args)
	if err != nil {
		return err
	}
	return sendFresh(c, value)
}

// load 调用生产者并写入缓存。同一进程内同一 key 的并发未命中只触发一次生产。
// 共享的生产过程不继承发起者的取消信号，否则发起请求断开会让所有等待者一起失败。
func (v *View[A, T]) load(ctx context.Context, key string, args A) (T, error) {
	ctx = context.WithoutCancel(ctx)
	res, err, _ := v.client.group.Do(key, func() (any, error) {
		value, err := v.produce(ctx, args)
		if err != nil {
			return value, err
		}
		return value, v.client.save(ctx, v.opts.Name, key, value)
	})
	value, _ := res.(T)
	return value, err
}

func sendFresh(c fiber.Ctx, value any) error {
	if raw, ok := value.([]byte); ok {
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		return c.Send(raw)
	}
	return c.JSON(Envelope{Data: value})
}

func sendCached(c fiber.Ctx, result *ReadResult) error {
	contentType := fiber.MIMEApplicationJSON
	if result.Entry.Encoding == EncodingRaw {
		contentType = fiber.MIMEOctetStream
	}
	setNoStoreHeaders(c, contentType)
	c.Status(fiber.StatusOK)

	if _, err := result.Reader.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w := c.Response().BodyWriter()
	if result.Entry.Encoding == EncodingScalar {
		if _, err := io.WriteString(w, `{"data":`); err != nil {
			return err
		}
	}
	if _, err := io.Copy(w, result.Reader); err != nil {
		return fmt.Errorf("read cache failed: %w", err)
	}
	if result.Entry.Encoding == EncodingScalar {
		if _, err := io.WriteString(w, "}"); err != nil {
			return err
		}
	}
	return nil
}

func setNoStoreHeaders(c fiber.Ctx, contentType string) {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, NoStoreCacheControl)
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "-1")
	c.Set("X-Cached-Response", "1")
	c.Response().Header.Del(fiber.HeaderETag)
	c.Response().Header.Del(fiber.HeaderLastModified)
}
