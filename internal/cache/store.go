package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Halocrypt/core/internal/lockfile"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheDir>/<name>.meta.json     # {"time_stamp", "data", "encoding"}
//	<CacheDir>/<name>.cache.json    # envelope/scalar 正文
//	<CacheDir>/<name>.cache.bin     # raw 正文
//	<CacheDir>/<file>~lock          # 写入期间的锁标记
//
// name 由 key 推导，调用方只接触 key。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。不存在、过期、被占用或不完整时返回 ErrNotFound。
	// ttl <= 0 表示不按时间过期。
	Get(ctx context.Context, key string, ttl time.Duration) (*ReadResult, error)

	// Put 编码 value 并写入元数据与正文。两个锁标记任一被占用时返回 ErrBusy（阻塞模式下等待）。
	Put(ctx context.Context, key string, value any) (*Entry, error)

	// Invalidate 删除 key 对应的全部文件并清理残留锁标记，key 不存在时不报错。
	Invalidate(ctx context.Context, key string) error

	// InvalidateMany 对每个 key 执行 Invalidate，错误合并返回。
	InvalidateMany(ctx context.Context, keys []string) error

	// Purge 删除目录下全部缓存文件，返回删除的条目数。
	Purge(ctx context.Context) (int, error)
}

// StoreOptions 控制磁盘缓存的可选行为。
type StoreOptions struct {
	// Locker 为空时在缓存目录下使用默认轮询间隔创建。
	Locker *lockfile.Locker
	// WaitForLocks 为 true 时写入会等待锁标记释放，而不是直接返回 ErrBusy。
	WaitForLocks bool
	// Now 便于测试注入时钟，默认 time.Now。
	Now func() time.Time
}

// Encoding 标记正文的编码方式，写入元数据，读取时不再猜测。
type Encoding string

const (
	// EncodingEnvelope 表示正文为 {"data": <value>}，用于 map/slice/array/struct。
	EncodingEnvelope Encoding = "envelope"
	// EncodingScalar 表示正文为裸 JSON 标量。
	EncodingScalar Encoding = "scalar"
	// EncodingRaw 表示正文为生产者返回的原始字节。
	EncodingRaw Encoding = "raw"
)

// Valid 报告编码标记是否可识别。
func (e Encoding) Valid() bool {
	switch e {
	case EncodingEnvelope, EncodingScalar, EncodingRaw:
		return true
	}
	return false
}

// Entry 描述一次缓存命中或写入结果。
type Entry struct {
	Key         string    `json:"key"`
	MetaPath    string    `json:"meta_path"`
	PayloadPath string    `json:"payload_path"`
	Encoding    Encoding  `json:"encoding"`
	SizeBytes   int64     `json:"size_bytes"`
	StoredAt    time.Time `json:"stored_at"`
}

// ReadResult 组合 Entry 与正文 Reader，调用方负责 Close。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存未命中。
	ErrNotFound = errors.New("cache entry not found")
	// ErrBusy 表示另一个写入方持有该条目的锁标记。
	ErrBusy = errors.New("cache entry busy")
	// ErrInvalidKey 表示 key 为空。
	ErrInvalidKey = errors.New("cache key required")
)
