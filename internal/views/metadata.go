package views

import "time"

// Scope 区分面向选手与面向管理员的视图。
type Scope string

const (
	ScopePlay  Scope = "play"
	ScopeAdmin Scope = "admin"
)

// Metadata 记录一个缓存视图的静态信息，供配置校验、路由和诊断端使用。
type Metadata struct {
	Name        string
	Description string
	// KeyTemplate 只用于展示，例如 "{event}-leaderboard"。
	KeyTemplate string
	// DefaultTTL 为 0 时使用全局 CacheTTL，cache.NoExpiry 表示不过期。
	DefaultTTL time.Duration
	Scope      Scope
}
