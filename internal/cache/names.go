package cache

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	metaSuffix        = ".meta.json"
	jsonPayloadSuffix = ".cache.json"
	rawPayloadSuffix  = ".cache.bin"
	tempPattern       = ".cache-*"
	maxPlainNameLen   = 96
	maxPrefixLen      = 48
)

var (
	plainKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	unsafeKeyChars  = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// entryName 把 key 映射为文件名前缀。安全且不太长的 key 原样使用，便于排查；
// 其余 key 使用清洗后的前缀加 xxhash64，避免路径穿越与冲突。
func entryName(key string) string {
	if len(key) <= maxPlainNameLen && plainKeyPattern.MatchString(key) {
		return key
	}
	prefix := unsafeKeyChars.ReplaceAllString(key, "_")
	prefix = strings.TrimLeft(prefix, "._-")
	if len(prefix) > maxPrefixLen {
		prefix = prefix[:maxPrefixLen]
	}
	if prefix == "" {
		prefix = "key"
	}
	return fmt.Sprintf("%s-%016x", prefix, xxhash.Sum64String(key))
}

type entryPaths struct {
	meta string
	json string
	raw  string
}

func (p entryPaths) payload(encoding Encoding) string {
	if encoding == EncodingRaw {
		return p.raw
	}
	return p.json
}

func (p entryPaths) other(encoding Encoding) string {
	if encoding == EncodingRaw {
		return p.json
	}
	return p.raw
}

func (p entryPaths) all() []string {
	return []string{p.meta, p.json, p.raw}
}

func pathsFor(basePath, key string) (entryPaths, error) {
	if strings.TrimSpace(key) == "" {
		return entryPaths{}, ErrInvalidKey
	}
	name := entryName(key)
	return entryPaths{
		meta: filepath.Join(basePath, name+metaSuffix),
		json: filepath.Join(basePath, name+jsonPayloadSuffix),
		raw:  filepath.Join(basePath, name+rawPayloadSuffix),
	}, nil
}

func isEntryFile(name string) bool {
	return strings.HasSuffix(name, metaSuffix) ||
		strings.HasSuffix(name, jsonPayloadSuffix) ||
		strings.HasSuffix(name, rawPayloadSuffix)
}
