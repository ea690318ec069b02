package views

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu    sync.RWMutex
	views map[string]Metadata
}

func newRegistry() *registry {
	return &registry{views: make(map[string]Metadata)}
}

// Register 将视图元数据加入全局注册表，重复名称会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定名称的视图元数据，名称大小写不敏感。
func Resolve(name string) (Metadata, bool) {
	return globalRegistry.resolve(name)
}

// List 返回按名称排序的视图列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Names 返回所有已注册视图的名称。
func Names() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Name
	}
	return result
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *registry) register(meta Metadata) error {
	name := normalizeName(meta.Name)
	if name == "" {
		return fmt.Errorf("view name is required")
	}
	meta.Name = name
	if meta.Scope == "" {
		meta.Scope = ScopePlay
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.views[name]; exists {
		return fmt.Errorf("view %s already registered", name)
	}
	r.views[name] = meta
	return nil
}

func (r *registry) resolve(name string) (Metadata, bool) {
	normalized := normalizeName(name)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.views[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.views) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.views))
	for name := range r.views {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]Metadata, 0, len(names))
	for _, name := range names {
		result = append(result, r.views[name])
	}
	return result
}
