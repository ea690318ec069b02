package config

import (
	"fmt"
	"strings"
)

// FieldError 指出配置中出错的字段路径，例如 Global.Events[1] 或 View[leaderboard].Name。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// eventField 返回 Global.Events 中第 i 项的字段路径。
func eventField(i int) string {
	return fmt.Sprintf("Global.Events[%d]", i)
}

// viewField 返回 [[View]] 表中某个字段的路径，名称为空时用下标定位。
func viewField(i int, name, field string) string {
	if name = strings.TrimSpace(name); name == "" {
		return fmt.Sprintf("View[%d].%s", i, field)
	}
	return fmt.Sprintf("View[%s].%s", name, field)
}
