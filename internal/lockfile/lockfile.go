// Package lockfile 提供基于标记文件的协作式互斥：目标路径 <dir>/<base>~lock 存在即视为被占用。
// 标记文件使用 O_CREATE|O_EXCL 原子创建，多个进程共享同一缓存目录时也不会同时认为自己持有锁。
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Suffix 是锁标记文件名后缀。
const Suffix = "~lock"

// DefaultPollInterval 是 WaitUntilFree 的轮询间隔。
const DefaultPollInterval = 100 * time.Millisecond

var errStillHeld = errors.New("lock still held")

// Locker 管理某个目录下的锁标记文件，所有方法都是 best-effort 的。
type Locker struct {
	dir      string
	interval time.Duration
}

// New 以 dir 为标记文件目录构建 Locker；interval <= 0 时使用 DefaultPollInterval。
func New(dir string, interval time.Duration) *Locker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Locker{dir: dir, interval: interval}
}

// Dir 返回标记文件所在目录。
func (l *Locker) Dir() string {
	return l.dir
}

// Path 返回 target 对应的标记文件路径，只取 target 的 basename。
func (l *Locker) Path(target string) string {
	return filepath.Join(l.dir, filepath.Base(target)+Suffix)
}

// Acquire 尝试创建标记文件。已被占用时返回 false, nil。
func (l *Locker) Acquire(target string) (bool, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return false, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.Path(target), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create lock file: %w", err)
	}
	_ = f.Close()
	return true, nil
}

// Release 删除标记文件，文件不存在或删除失败都视为已释放。
func (l *Locker) Release(target string) {
	_ = os.Remove(l.Path(target))
}

// Held 报告 target 当前是否存在标记文件。
func (l *Locker) Held(target string) bool {
	_, err := os.Lstat(l.Path(target))
	return err == nil
}

// WaitUntilFree 按固定间隔轮询直到标记文件消失，只有 ctx 结束才会提前返回。
func (l *Locker) WaitUntilFree(ctx context.Context, target string) error {
	return retry.Do(
		func() error {
			if l.Held(target) {
				return errStillHeld
			}
			return nil
		},
		retry.Attempts(0),
		retry.Delay(l.interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

// AcquireWait 阻塞直到成功创建标记文件或 ctx 结束。
func (l *Locker) AcquireWait(ctx context.Context, target string) error {
	for {
		ok, err := l.Acquire(target)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := l.WaitUntilFree(ctx, target); err != nil {
			return err
		}
	}
}

// Sweep 删除目录下所有锁标记文件，返回删除数量。目录不存在时返回 0。
// 只应在确认没有其它存活进程共享该目录时调用。
func (l *Locker) Sweep() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Suffix) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
