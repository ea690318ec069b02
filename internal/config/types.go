package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Halocrypt/core/internal/views"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	CacheDir          string   `mapstructure:"CacheDir"`
	CacheEnabled      bool     `mapstructure:"CacheEnabled"`
	CacheTTL          Duration `mapstructure:"CacheTTL"`
	CacheLockPoll     Duration `mapstructure:"CacheLockPoll"`
	CacheWaitForLocks bool     `mapstructure:"CacheWaitForLocks"`
	CacheFlushOnStart bool     `mapstructure:"CacheFlushOnStart"`

	DatabasePath string   `mapstructure:"DatabasePath"`
	AdminKey     string   `mapstructure:"AdminKey"`
	Events       []string `mapstructure:"Events"`
}

// ViewConfig 覆盖单个缓存视图的策略。CacheTTL 为负数表示永不过期。
type ViewConfig struct {
	Name     string   `mapstructure:"Name"`
	CacheTTL Duration `mapstructure:"CacheTTL"`
	Disabled bool     `mapstructure:"Disabled"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Views  []ViewConfig `mapstructure:"View"`
}

// ViewOverrides 将 [[View]] 配置映射为 views 包使用的覆盖项，key 为视图名称。
func (c *Config) ViewOverrides() map[string]views.Override {
	if c == nil || len(c.Views) == 0 {
		return nil
	}
	result := make(map[string]views.Override, len(c.Views))
	for _, view := range c.Views {
		result[strings.ToLower(strings.TrimSpace(view.Name))] = views.Override{
			TTL:      view.CacheTTL.DurationValue(),
			Disabled: view.Disabled,
		}
	}
	return result
}

// HasAdminKey 表示是否启用了管理端接口。
func (g GlobalConfig) HasAdminKey() bool {
	return strings.TrimSpace(g.AdminKey) != ""
}

// CacheMode 输出 `enabled` 或 `disabled`，供日志字段使用。
func (g GlobalConfig) CacheMode() string {
	if g.CacheEnabled {
		return "enabled"
	}
	return "disabled"
}
