package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Halocrypt/core/internal/views"
)

var eventNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var supportedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, ok := supportedLogLevels[g.LogLevel]; !ok {
			return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error")
		}
	}
	if g.CacheDir == "" {
		return newFieldError("Global.CacheDir", "不能为空")
	}
	if g.CacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.CacheTTL", "必须大于 0")
	}
	if g.CacheLockPoll.DurationValue() <= 0 {
		return newFieldError("Global.CacheLockPoll", "必须大于 0")
	}
	if g.DatabasePath == "" {
		return newFieldError("Global.DatabasePath", "不能为空")
	}
	if len(g.Events) == 0 {
		return newFieldError("Global.Events", "至少需要一个赛事")
	}
	seenEvents := map[string]struct{}{}
	for i, event := range g.Events {
		if !eventNamePattern.MatchString(event) {
			return newFieldError(eventField(i), fmt.Sprintf("非法赛事名称: %s", event))
		}
		if _, exists := seenEvents[event]; exists {
			return newFieldError(eventField(i), fmt.Sprintf("重复赛事: %s", event))
		}
		seenEvents[event] = struct{}{}
	}

	seenViews := map[string]struct{}{}
	for i, view := range c.Views {
		if view.Name == "" {
			return newFieldError(viewField(i, "", "Name"), "不能为空")
		}
		if _, exists := seenViews[view.Name]; exists {
			return newFieldError(viewField(i, view.Name, "Name"), "重复")
		}
		seenViews[view.Name] = struct{}{}

		if _, ok := views.Resolve(view.Name); !ok {
			return newFieldError(viewField(i, view.Name, "Name"), fmt.Sprintf("未注册视图: %s", view.Name))
		}
	}

	return nil
}
