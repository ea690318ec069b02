package hunt

import (
	"regexp"
	"strings"
)

var nonWordChars = regexp.MustCompile(`[^\p{L}\p{N}_]`)

// Sanitize 去掉所有非单词字符并转为小写，用于答案比对与用户名校验。
func Sanitize(s string) string {
	return strings.ToLower(strings.TrimSpace(nonWordChars.ReplaceAllString(s, "")))
}
