package views

import (
	"time"

	"github.com/Halocrypt/core/internal/cache"
)

// Override 描述来自 [[View]] 配置的覆盖项。
type Override struct {
	TTL      time.Duration
	Disabled bool
}

// ResolveOptions 将视图默认策略与配置覆盖合并为 cache.ViewOptions。
// TTL 为 0 时交给 cache.Client 使用全局默认值。
func ResolveOptions(meta Metadata, override Override) cache.ViewOptions {
	ttl := meta.DefaultTTL
	if override.TTL != 0 {
		ttl = override.TTL
	}
	if ttl < 0 {
		ttl = cache.NoExpiry
	}
	return cache.ViewOptions{
		Name:     meta.Name,
		TTL:      ttl,
		Disabled: override.Disabled,
	}
}

// Options 按名称查找视图并合并覆盖项；overrides 的 key 为视图名称。
// 未注册的名称只带上名称，其余使用客户端默认值。
func Options(name string, overrides map[string]Override) cache.ViewOptions {
	meta, ok := Resolve(name)
	if !ok {
		meta = Metadata{Name: normalizeName(name)}
	}
	return ResolveOptions(meta, overrides[meta.Name])
}

// EffectiveTTL 返回视图实际生效的 TTL，用于诊断输出。
func EffectiveTTL(opts cache.ViewOptions, fallback time.Duration) time.Duration {
	if opts.TTL == 0 {
		return fallback
	}
	return opts.TTL
}
