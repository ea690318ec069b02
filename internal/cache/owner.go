package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/Halocrypt/core/internal/lockfile"
)

const ownersFile = ".owners.lock"

// OwnerOptions 控制进程接管缓存目录时的清理行为。
type OwnerOptions struct {
	// FlushOnStart 为 true 时，首个进程会清空全部缓存条目。
	FlushOnStart bool
	Logger       logrus.FieldLogger
}

// Owner 表示当前进程对缓存目录的共享占用，进程存活期间一直持有。
type Owner struct {
	lock *flock.Flock
	// First 表示启动时没有其它存活进程共享该目录。
	First bool
	// Swept 是清理掉的残留锁标记数量。
	Swept int
	// Purged 是 FlushOnStart 清理掉的条目数量。
	Purged int
}

// ClaimDirectory 在缓存目录上登记当前进程。若能拿到排它锁，说明目录里的锁标记都是崩溃残留，
// 此时清理它们；随后降级为共享锁，使后续启动的进程不会误删仍在使用的标记。
func ClaimDirectory(ctx context.Context, store Store, locker *lockfile.Locker, opts OwnerOptions) (*Owner, error) {
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if err := os.MkdirAll(locker.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	lock := flock.New(filepath.Join(locker.Dir(), ownersFile))
	exclusive, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock cache dir: %w", err)
	}

	owner := &Owner{lock: lock, First: exclusive}
	if exclusive {
		swept, err := locker.Sweep()
		if err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("sweep lock markers: %w", err)
		}
		owner.Swept = swept

		if opts.FlushOnStart && store != nil {
			purged, err := store.Purge(ctx)
			if err != nil {
				lock.Unlock()
				return nil, fmt.Errorf("purge cache: %w", err)
			}
			owner.Purged = purged
		}

		if err := lock.Unlock(); err != nil {
			return nil, fmt.Errorf("unlock cache dir: %w", err)
		}
	}

	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("share cache dir: %w", err)
	}

	if opts.Logger != nil {
		opts.Logger.WithFields(logrus.Fields{
			"action": "cache_claim",
			"dir":    locker.Dir(),
			"first":  owner.First,
			"swept":  owner.Swept,
			"purged": owner.Purged,
		}).Info("cache dir claimed")
	}
	return owner, nil
}

// Close 释放共享占用。
func (o *Owner) Close() error {
	if o == nil || o.lock == nil {
		return nil
	}
	return o.lock.Unlock()
}
