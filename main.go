package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Halocrypt/core/internal/cache"
	"github.com/Halocrypt/core/internal/config"
	"github.com/Halocrypt/core/internal/hunt"
	"github.com/Halocrypt/core/internal/lockfile"
	"github.com/Halocrypt/core/internal/logging"
	"github.com/Halocrypt/core/internal/server"
	"github.com/Halocrypt/core/internal/server/routes"
	"github.com/Halocrypt/core/internal/version"
	"github.com/Halocrypt/core/internal/views"
)

const (
	commandServe      = "serve"
	commandCacheSweep = "cache-sweep"
	commandCacheFlush = "cache-flush"
	commandSetAdmin   = "user-set-admin"
)

// cliOptions 汇总 CLI 解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	command     string
	purge       bool
	keys        []string
	username    string
	revoke      bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	if opts.command == "" {
		// --help 等只输出帮助信息。
		os.Exit(0)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["events"] = cfg.Global.Events
		fields["views"] = len(cfg.Views)
		fields["cache"] = cfg.Global.CacheMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("config check passed")
		return 0
	}

	switch opts.command {
	case commandCacheSweep:
		err = runCacheSweep(cfg, logger, opts)
	case commandCacheFlush:
		err = runCacheFlush(cfg, logger, opts)
	case commandSetAdmin:
		err = runSetAdmin(cfg, logger, opts)
	default:
		err = serve(cfg, logger, opts)
	}
	if err != nil {
		fmt.Fprintf(stdErr, "%s 失败: %v\n", opts.command, err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 只输出帮助时返回的 command 为空。
func parseCLIFlags(args []string) (cliOptions, error) {
	var opts cliOptions
	root := newRootCommand(&opts)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if opts.configPath == "" {
		opts.configPath = config.DefaultPath()
	}
	return opts, nil
}

// newRootCommand 构建命令树，各命令只记录选项，实际执行交给 run。
func newRootCommand(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "hunt",
		Short:         "Hunt API server with a shared on-disk response cache",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.command = commandServe
			return nil
		},
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "配置文件路径（默认 ./config.toml，可被 "+config.EnvConfigPath+" 覆盖）")
	flags.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	root.Flags().BoolVar(&opts.showVersion, "version", false, "显示版本信息")

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the shared cache directory",
	}
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove lock markers left by crashed workers",
		Long: `Remove lock markers left by crashed workers.

The sweep only runs when no server process holds the cache directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.command = commandCacheSweep
			return nil
		},
	}
	sweepCmd.Flags().BoolVar(&opts.purge, "purge", false, "同时删除全部缓存条目")

	flushCmd := &cobra.Command{
		Use:   "flush KEY...",
		Short: "Invalidate cache entries by key",
		Long: `Invalidate cache entries by key.

Examples:
  hunt cache flush events-list
  hunt cache flush main-leaderboard main-user-count`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.command = commandCacheFlush
			opts.keys = args
			return nil
		},
	}

	cacheCmd.AddCommand(sweepCmd, flushCmd)

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage player accounts",
	}
	setAdminCmd := &cobra.Command{
		Use:   "set-admin USERNAME",
		Short: "Grant or revoke the admin flag of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.command = commandSetAdmin
			opts.username = args[0]
			return nil
		},
	}
	setAdminCmd.Flags().BoolVar(&opts.revoke, "revoke", false, "撤销管理员标记")
	userCmd.AddCommand(setAdminCmd)

	root.AddCommand(cacheCmd, userCmd)
	return root
}

func newCacheStore(cfg *config.Config) (cache.Store, *lockfile.Locker, error) {
	locker := lockfile.New(cfg.Global.CacheDir, cfg.Global.CacheLockPoll.DurationValue())
	store, err := cache.NewStore(cfg.Global.CacheDir, cache.StoreOptions{
		Locker:       locker,
		WaitForLocks: cfg.Global.CacheWaitForLocks,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, locker, nil
}

func serve(cfg *config.Config, logger *logrus.Logger, opts cliOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：磁盘缓存 → 目录认领 → 数据库 → Fiber server，
	// 所有 worker 共享同一个缓存目录，认领时清理崩溃残留的锁标记。
	store, locker, err := newCacheStore(cfg)
	if err != nil {
		return fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	owner, err := cache.ClaimDirectory(ctx, store, locker, cache.OwnerOptions{
		FlushOnStart: cfg.Global.CacheFlushOnStart,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("认领缓存目录失败: %w", err)
	}
	defer owner.Close()

	repo, err := hunt.Open(ctx, cfg.Global.DatabasePath)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	defer repo.Close()
	if err := repo.EnsureEvents(ctx, cfg.Global.Events); err != nil {
		return fmt.Errorf("初始化赛事失败: %w", err)
	}

	client := cache.NewClient(store, cache.ClientOptions{
		Enabled:    cfg.Global.CacheEnabled,
		DefaultTTL: cfg.Global.CacheTTL.DurationValue(),
		Logger:     logger,
	})

	fields := logging.BaseFields("startup", opts.configPath)
	fields["events"] = cfg.Global.Events
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache"] = cfg.Global.CacheMode()
	fields["cache_dir"] = cfg.Global.CacheDir
	fields["admin_enabled"] = cfg.Global.HasAdminKey()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("config loaded")

	app, err := server.NewApp(server.AppOptions{Logger: logger, AdminKey: cfg.Global.AdminKey})
	if err != nil {
		return err
	}
	err = routes.Register(app, routes.Deps{
		Repo:      repo,
		Cache:     client,
		Overrides: cfg.ViewOverrides(),
		AdminKey:  cfg.Global.AdminKey,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("stopping server")
		_ = app.Shutdown()
	}()

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("fiber server starting")
	return app.Listen(fmt.Sprintf(":%d", port))
}

func runCacheSweep(cfg *config.Config, logger *logrus.Logger, opts cliOptions) error {
	store, locker, err := newCacheStore(cfg)
	if err != nil {
		return err
	}
	owner, err := cache.ClaimDirectory(context.Background(), store, locker, cache.OwnerOptions{
		FlushOnStart: opts.purge,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer owner.Close()

	if !owner.First {
		return errors.New("cache directory is in use by a running server")
	}
	fmt.Fprintf(stdOut, "swept %d lock markers, purged %d entries\n", owner.Swept, owner.Purged)
	return nil
}

func runCacheFlush(cfg *config.Config, logger *logrus.Logger, opts cliOptions) error {
	store, _, err := newCacheStore(cfg)
	if err != nil {
		return err
	}
	// Flush 不受 CacheEnabled 影响。
	client := cache.NewClient(store, cache.ClientOptions{Logger: logger})
	if err := client.Flush(context.Background(), opts.keys); err != nil {
		return err
	}
	fmt.Fprintf(stdOut, "invalidated %d keys\n", len(opts.keys))
	return nil
}

// runSetAdmin 修改管理员标记；排行榜排序依赖该标记，因此同时失效对应赛事的排行榜。
func runSetAdmin(cfg *config.Config, logger *logrus.Logger, opts cliOptions) error {
	ctx := context.Background()
	repo, err := hunt.Open(ctx, cfg.Global.DatabasePath)
	if err != nil {
		return err
	}
	defer repo.Close()

	user, err := repo.SetAdmin(ctx, opts.username, !opts.revoke)
	if err != nil {
		return err
	}

	store, _, err := newCacheStore(cfg)
	if err != nil {
		return err
	}
	client := cache.NewClient(store, cache.ClientOptions{Logger: logger})
	if err := client.Flush(ctx, []string{views.LeaderboardKey(user.Event)}); err != nil {
		return err
	}
	fmt.Fprintf(stdOut, "%s is_admin=%t\n", user.User, user.IsAdmin)
	return nil
}

// printVersion 输出注入的版本与提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
