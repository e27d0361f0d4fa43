package cmd

import (
	"fmt"
	"time"

	"undersounds/core/bandwidth"
	"undersounds/model"

	"github.com/spf13/cobra"
)

var (
	bandwidthServer   string
	bandwidthSamples  int
	bandwidthWatch    bool
	bandwidthInterval time.Duration
	bandwidthDebounce time.Duration
)

var bandwidthCmd = &cobra.Command{
	Use:   "bandwidth",
	Short: "对流媒体服务运行带宽估算",
	Long: `下载带宽探测数据估算吞吐并给出推荐档位。
--watch 时持续监测，档位变化经过去抖后才输出。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := bandwidthServer
		if base == "" {
			base = cfg.PublicBaseURL
		}
		est := bandwidth.NewEstimator(base, nil)

		if !bandwidthWatch {
			for i := 0; i < bandwidthSamples; i++ {
				mbps := est.Measure(cmd.Context())
				fmt.Printf("sample %d: avg %.2f Mbps\n", i+1, mbps)
			}
			tier := est.SelectTier(est.Average())
			fmt.Printf("recommended tier: %s\n", tier)
			printJSON(est.DebugInfo())
			return nil
		}

		deb := bandwidth.NewDebouncer(bandwidthDebounce, bandwidth.InitialTier, nil, func(tier model.QualityTier) {
			fmt.Printf("%s applied tier: %s\n", time.Now().Format(time.RFC3339), tier)
		})
		defer deb.Stop()
		unsubscribe := est.Subscribe(func(tier model.QualityTier, mbps float64) {
			fmt.Printf("%s recommend %s (%.2f Mbps)\n", time.Now().Format(time.RFC3339), tier, mbps)
			deb.Recommend(tier)
		})
		defer unsubscribe()

		est.Start(cmd.Context(), bandwidthInterval)
		<-cmd.Context().Done()
		est.Stop()
		printJSON(est.DebugInfo())
		return nil
	},
}

func init() {
	bandwidthCmd.Flags().StringVar(&bandwidthServer, "server", "", "服务地址，默认取 PUBLIC_BASE_URL")
	bandwidthCmd.Flags().IntVarP(&bandwidthSamples, "samples", "n", 3, "测量次数")
	bandwidthCmd.Flags().BoolVarP(&bandwidthWatch, "watch", "w", false, "持续监测直到中断")
	bandwidthCmd.Flags().DurationVar(&bandwidthInterval, "interval", bandwidth.DefaultInterval, "监测间隔")
	bandwidthCmd.Flags().DurationVar(&bandwidthDebounce, "debounce", bandwidth.DefaultDebounce, "档位切换去抖时间")
	rootCmd.AddCommand(bandwidthCmd)
}
