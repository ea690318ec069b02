package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Halocrypt/core/internal/lockfile"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，同一主机上的所有进程共享该目录。
func NewStore(basePath string, opts StoreOptions) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	locker := opts.Locker
	if locker == nil {
		locker = lockfile.New(abs, lockfile.DefaultPollInterval)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &fileStore{
		basePath: abs,
		locker:   locker,
		wait:     opts.WaitForLocks,
		now:      now,
	}, nil
}

// fileStore 用锁标记文件协调跨进程的读写，写入通过临时文件 + rename 落盘。
type fileStore struct {
	basePath string
	locker   *lockfile.Locker
	wait     bool
	now      func() time.Time
}

func (s *fileStore) Get(ctx context.Context, key string, ttl time.Duration) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	paths, err := pathsFor(s.basePath, key)
	if err != nil {
		return nil, err
	}

	// 读取不等待：有写入方时直接按未命中处理，由调用方重新生成。
	if s.locker.Held(paths.meta) {
		return nil, ErrNotFound
	}

	info, err := os.Stat(paths.meta)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	meta, err := s.readMetadata(paths.meta)
	if err != nil {
		if errors.Is(err, errCorrupted) {
			removeQuietly(paths.meta)
			return nil, ErrNotFound
		}
		return nil, err
	}

	payloadPath := filepath.Join(s.basePath, filepath.Base(meta.Data))
	storedAt := fromUnixSeconds(meta.TimeStamp)
	if ttl > 0 && s.now().Sub(storedAt) > ttl {
		removeQuietly(paths.meta)
		removeQuietly(payloadPath)
		return nil, ErrNotFound
	}

	if s.locker.Held(payloadPath) {
		return nil, ErrNotFound
	}

	f, err := os.Open(payloadPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	payloadInfo, err := f.Stat()
	if err != nil || payloadInfo.IsDir() || payloadInfo.Size() == 0 {
		f.Close()
		return nil, ErrNotFound
	}

	return &ReadResult{
		Entry: Entry{
			Key:         key,
			MetaPath:    paths.meta,
			PayloadPath: payloadPath,
			Encoding:    meta.Encoding,
			SizeBytes:   payloadInfo.Size(),
			StoredAt:    storedAt,
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, key string, value any) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths, err := pathsFor(s.basePath, key)
	if err != nil {
		return nil, err
	}

	encoding, body, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	payloadPath := paths.payload(encoding)

	unlock, err := s.lockTargets(ctx, paths.meta, payloadPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	storedAt := s.now()
	record, err := json.Marshal(metadata{
		TimeStamp: toUnixSeconds(storedAt),
		Data:      filepath.Base(payloadPath),
		Encoding:  encoding,
	})
	if err != nil {
		return nil, err
	}

	if err := writeFileAtomic(paths.meta, record); err != nil {
		return nil, fmt.Errorf("write cache metadata: %w", err)
	}
	if err := writeFileAtomic(payloadPath, body); err != nil {
		// 元数据已更新而正文失败时，旧正文不能以新时间戳被读到。
		removeQuietly(paths.meta)
		return nil, fmt.Errorf("write cache payload: %w", err)
	}
	removeQuietly(paths.other(encoding))

	return &Entry{
		Key:         key,
		MetaPath:    paths.meta,
		PayloadPath: payloadPath,
		Encoding:    encoding,
		SizeBytes:   int64(len(body)),
		StoredAt:    storedAt,
	}, nil
}

func (s *fileStore) Invalidate(ctx context.Context, key string) error {
	paths, err := pathsFor(s.basePath, key)
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range paths.all() {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		s.locker.Release(target)
	}
	return errors.Join(errs...)
}

func (s *fileStore) InvalidateMany(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.Invalidate(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) Purge(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		isTemp, _ := filepath.Match(tempPattern, name)
		if !isEntryFile(name) && !isTemp {
			continue
		}
		if err := os.Remove(filepath.Join(s.basePath, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return purged, err
		}
		if strings.HasSuffix(name, metaSuffix) {
			purged++
		}
	}
	return purged, nil
}

// readMetadata 在持有元数据锁标记期间读取文件；拿不到锁视为未命中。
func (s *fileStore) readMetadata(path string) (metadata, error) {
	ok, err := s.locker.Acquire(path)
	if err != nil {
		return metadata{}, err
	}
	if !ok {
		return metadata{}, ErrNotFound
	}
	body, err := os.ReadFile(path)
	s.locker.Release(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return metadata{}, ErrNotFound
		}
		return metadata{}, err
	}
	return parseMetadata(body)
}

// lockTargets 依次获取所有锁标记，任一失败时释放已获取的部分。
func (s *fileStore) lockTargets(ctx context.Context, targets ...string) (func(), error) {
	acquired := make([]string, 0, len(targets))
	unlock := func() {
		for _, target := range acquired {
			s.locker.Release(target)
		}
	}

	for _, target := range targets {
		if s.wait {
			if err := s.locker.AcquireWait(ctx, target); err != nil {
				unlock()
				return nil, err
			}
		} else {
			ok, err := s.locker.Acquire(target)
			if err != nil {
				unlock()
				return nil, err
			}
			if !ok {
				unlock()
				return nil, ErrBusy
			}
		}
		acquired = append(acquired, target)
	}
	return unlock, nil
}

func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
