package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	lifecycleTrackID   int64
	lifecycleOlderThan time.Duration
)

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "主文件冷热存储迁移",
}

func requireTrack() error {
	if lifecycleTrackID <= 0 {
		return errors.New("--track is required")
	}
	return nil
}

var lifecycleArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "把曲目主文件归档到 MinIO",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTrack(); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		url, err := a.lifecycle.Archive(cmd.Context(), lifecycleTrackID)
		if err != nil {
			return err
		}
		fmt.Printf("track %d archived: %s\n", lifecycleTrackID, url)
		return nil
	},
}

var lifecycleRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "从 MinIO 恢复曲目主文件",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTrack(); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		local, err := a.lifecycle.Restore(cmd.Context(), lifecycleTrackID)
		if err != nil {
			return err
		}
		fmt.Printf("track %d restored: %s\n", lifecycleTrackID, local)
		return nil
	},
}

var lifecycleStateCmd = &cobra.Command{
	Use:   "state",
	Short: "查看曲目主文件所在层（HOT/COLD）",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTrack(); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.lifecycle.State(cmd.Context(), lifecycleTrackID)
		if err != nil {
			return err
		}
		fmt.Println(state)
		return nil
	},
}

var lifecycleArchiveInactiveCmd = &cobra.Command{
	Use:   "archive-inactive",
	Short: "归档长时间未访问的曲目",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		olderThan := lifecycleOlderThan
		if olderThan <= 0 {
			olderThan = cfg.ArchiveAfter
		}
		sum, err := a.lifecycle.ArchiveInactive(cmd.Context(), olderThan)
		printJSON(sum)
		return err
	},
}

func init() {
	lifecycleCmd.PersistentFlags().Int64Var(&lifecycleTrackID, "track", 0, "曲目 ID")
	lifecycleArchiveInactiveCmd.Flags().DurationVar(&lifecycleOlderThan, "older-than", 0, "未访问时长阈值，默认取 ARCHIVE_AFTER")

	// sweep 与 variants sweep 相同，保留在 lifecycle 下便于运维
	lifecycleCmd.AddCommand(lifecycleArchiveCmd, lifecycleRestoreCmd, lifecycleStateCmd,
		lifecycleArchiveInactiveCmd, newLifecycleSweepCmd())
	rootCmd.AddCommand(lifecycleCmd)
}

func newLifecycleSweepCmd() *cobra.Command {
	var days int
	c := &cobra.Command{
		Use:   "sweep",
		Short: "清理全部曲目的过期变体",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if days < 0 {
				days = cfg.VariantMaxAgeDays
			}
			res, err := a.streaming.SweepAll(cmd.Context(), days)
			printJSON(res)
			return err
		},
	}
	c.Flags().IntVar(&days, "days", -1, "保留天数阈值，默认取 VARIANT_MAX_AGE_DAYS")
	return c
}
