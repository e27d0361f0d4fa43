package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	variantsTrackID int64
	variantsAll     bool
	variantsForce   bool
	variantsDays    int
)

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "多码率变体管理",
}

var variantsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成变体（--track 单个曲目，--all 全部曲目）",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (variantsTrackID > 0) == variantsAll {
			return errors.New("exactly one of --track or --all is required")
		}
		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if variantsAll {
			sum, err := a.streaming.GenerateAll(cmd.Context(), variantsForce)
			printJSON(sum)
			if err == nil && sum.Failed > 0 {
				err = fmt.Errorf("%d track(s) failed", sum.Failed)
			}
			return err
		}

		if variantsForce {
			if err := a.streaming.DeleteAll(cmd.Context(), variantsTrackID); err != nil {
				return err
			}
		}
		variants, err := a.streaming.Generate(cmd.Context(), variantsTrackID)
		printJSON(variants)
		return err
	},
}

var variantsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "删除超过 --days 天未更新的变体（--track 指定单个曲目）",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if variantsTrackID > 0 {
			removed, err := a.streaming.Cleanup(cmd.Context(), variantsTrackID, variantsDays)
			printJSON(map[string]interface{}{"trackId": variantsTrackID, "removed": removed})
			return err
		}
		res, err := a.streaming.SweepAll(cmd.Context(), variantsDays)
		printJSON(res)
		return err
	},
}

var variantsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "查看曲目各档位的磁盘统计",
	RunE: func(cmd *cobra.Command, args []string) error {
		if variantsTrackID <= 0 {
			return errors.New("--track is required")
		}
		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.streaming.Stats(cmd.Context(), variantsTrackID)
		if err != nil {
			return err
		}
		for _, v := range stats.Variants {
			fmt.Printf("%-7s %-5s %10s  %s\n", v.Tier, v.Bitrate, v.SizeHuman, v.URL)
		}
		fmt.Printf("total: %s\n", stats.TotalSizeHuman)
		return nil
	},
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func init() {
	variantsCmd.PersistentFlags().Int64Var(&variantsTrackID, "track", 0, "曲目 ID")
	variantsGenerateCmd.Flags().BoolVar(&variantsAll, "all", false, "为全部曲目生成")
	variantsGenerateCmd.Flags().BoolVar(&variantsForce, "force", false, "已有变体也重新生成")
	variantsSweepCmd.Flags().IntVar(&variantsDays, "days", 90, "保留天数阈值")

	variantsCmd.AddCommand(variantsGenerateCmd, variantsSweepCmd, variantsStatsCmd)
	rootCmd.AddCommand(variantsCmd)
}
