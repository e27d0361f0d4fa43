package cmd

import (
	"fmt"

	"undersounds/cache"
	"undersounds/db"

	"github.com/spf13/cobra"
)

var redisInvalidate int64

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接和基本读写；指定 --invalidate 时删除该曲目的 info 缓存。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := db.ConnectRedis(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		if err := db.CheckRedis(cmd.Context(), client); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if redisInvalidate > 0 {
			c := cache.NewRedisTrackInfoCache(client, cfg.InfoCacheTTL)
			if err := c.Invalidate(cmd.Context(), redisInvalidate); err != nil {
				return err
			}
			fmt.Printf("已删除缓存 %s\n", cache.InfoKey(redisInvalidate))
		}
		return nil
	},
}

func init() {
	redisCmd.Flags().Int64Var(&redisInvalidate, "invalidate", 0, "删除指定曲目的 info 缓存")
	rootCmd.AddCommand(redisCmd)
}
