package cmd

import (
	"context"

	"undersounds/core/lifecycle"
	"undersounds/core/streaming"
	"undersounds/logger"
	"undersounds/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动流媒体 HTTP 服务",
	Long:  `启动 HTTP 服务，同时运行变体目录监听、过期变体清理和不活跃曲目归档的后台任务`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(ctx context.Context) error {
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if watcher, err := streaming.NewVariantWatcher(a.layout, a.cache, a.events); err != nil {
		logger.Warn("变体目录监听启动失败", logger.ErrorField(err))
	} else {
		go watcher.Run(ctx)
	}

	scheduler := lifecycle.NewScheduler(a.streaming, a.lifecycle, lifecycle.SchedulerConfig{
		SweepInterval:     cfg.SweepInterval,
		VariantMaxAgeDays: cfg.VariantMaxAgeDays,
		ArchiveInterval:   cfg.ArchiveInterval,
		ArchiveAfter:      cfg.ArchiveAfter,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := server.New(cfg, a.streaming, a.lifecycle, a.events)
	err = srv.Run(ctx)

	// 等待后台生成结束再关闭数据库
	a.streaming.Wait()
	return err
}
