package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 HUNT_CACHEENABLED=false。
const EnvPrefix = "HUNT"

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = EnvPrefix + "_CONFIG"

// DefaultPath 返回未显式指定时使用的配置路径。
func DefaultPath() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return "config.toml"
}

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Views {
		applyViewDefaults(&cfg.Views[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.Global.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheDir = absCache

	if cfg.Global.DatabasePath != ":memory:" {
		absDB, err := filepath.Abs(cfg.Global.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析数据库路径: %w", err)
		}
		cfg.Global.DatabasePath = absDB
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDir", "./cache")
	v.SetDefault("CacheEnabled", true)
	v.SetDefault("CacheTTL", "1h")
	v.SetDefault("CacheLockPoll", "100ms")
	v.SetDefault("CacheWaitForLocks", false)
	v.SetDefault("CacheFlushOnStart", false)
	v.SetDefault("DatabasePath", "./hunt.db")
	v.SetDefault("AdminKey", "")
	v.SetDefault("Events", []string{"main"})
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.CacheTTL.DurationValue() == 0 {
		g.CacheTTL = Duration(time.Hour)
	}
	if g.CacheLockPoll.DurationValue() == 0 {
		g.CacheLockPoll = Duration(100 * time.Millisecond)
	}
	events := make([]string, 0, len(g.Events))
	for _, event := range g.Events {
		if trimmed := strings.TrimSpace(event); trimmed != "" {
			events = append(events, trimmed)
		}
	}
	g.Events = events
}

func applyViewDefaults(v *ViewConfig) {
	v.Name = strings.ToLower(strings.TrimSpace(v.Name))
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
