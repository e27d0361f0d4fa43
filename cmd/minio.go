package cmd

import (
	"fmt"
	"os"

	"undersounds/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO 归档存储桶管理",
	Long:  `查看归档目录中的对象和统计信息，或删除指定前缀下的全部对象。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
		store, err := storage.NewMinioStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("无法连接到MinIO: %w", err)
		}

		prefix := minioPrefix
		if prefix == "" {
			prefix = cfg.ArchiveFolder
		}

		if minioDelete {
			n, err := store.DeleteArchived(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("删除目录失败: %w", err)
			}
			fmt.Printf("已删除 %d 个对象 (前缀: %s)\n", n, prefix)
			return nil
		}

		objects, stats, err := store.ListArchived(cmd.Context(), prefix)
		if err != nil {
			return fmt.Errorf("列出文件失败: %w", err)
		}
		storage.PrintBucketStatus(os.Stdout, objects, stats)
		return nil
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "对象前缀，默认取 ARCHIVE_FOLDER")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除前缀下的全部对象")
	rootCmd.AddCommand(minioCmd)
}
