package routes

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Halocrypt/core/internal/views"
)

type viewPayload struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	KeyTemplate string      `json:"key_template"`
	Scope       views.Scope `json:"scope"`
	TTLSeconds  int64       `json:"ttl_seconds"`
	Enabled     bool        `json:"enabled"`
}

// registerViewRoutes 暴露 /-/views 诊断接口，列出缓存视图及其生效策略。
func registerViewRoutes(app *fiber.App, deps Deps) {
	cacheEnabled := deps.Cache.Enabled()
	fallback := deps.Cache.DefaultTTL()

	encode := func(meta views.Metadata) viewPayload {
		opts := views.ResolveOptions(meta, deps.Overrides[meta.Name])
		return viewPayload{
			Name:        meta.Name,
			Description: meta.Description,
			KeyTemplate: meta.KeyTemplate,
			Scope:       meta.Scope,
			TTLSeconds:  ttlSeconds(views.EffectiveTTL(opts, fallback)),
			Enabled:     cacheEnabled && !opts.Disabled,
		}
	}

	app.Get("/-/views", func(c fiber.Ctx) error {
		list := views.List()
		payload := make([]viewPayload, 0, len(list))
		for _, meta := range list {
			payload = append(payload, encode(meta))
		}
		return c.JSON(fiber.Map{
			"cache_enabled": cacheEnabled,
			"default_ttl":   ttlSeconds(fallback),
			"views":         payload,
		})
	})

	app.Get("/-/views/:name", func(c fiber.Ctx) error {
		name := strings.ToLower(strings.TrimSpace(c.Params("name")))
		meta, ok := views.Resolve(name)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "view_not_found")
		}
		return c.JSON(encode(meta))
	})
}

// ttlSeconds 将 TTL 转为秒，永不过期返回 -1。
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return -1
	}
	return int64(ttl / time.Second)
}
