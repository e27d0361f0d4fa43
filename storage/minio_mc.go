package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	Bucket       string
	Prefix       string
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	TypeStats    map[string]int64 // 按扩展名统计文件数
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// ListArchived 列出存储桶中指定前缀下的对象，并汇总统计
func (s *MinioStore) ListArchived(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, nil, fmt.Errorf("检查存储桶是否存在失败: %w", err)
	}
	if !exists {
		return nil, nil, fmt.Errorf("存储桶 %s 不存在", s.bucket)
	}

	var objects []ObjectInfo
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
			ETag:         object.ETag,
		})
	}

	return objects, Summarize(s.bucket, prefix, objects), nil
}

// Summarize 汇总对象列表
func Summarize(bucket, prefix string, objects []ObjectInfo) *BucketStats {
	stats := &BucketStats{Bucket: bucket, Prefix: prefix, TypeStats: make(map[string]int64)}
	for _, obj := range objects {
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
		stats.TypeStats[fileExtension(obj.Key)]++
	}
	return stats
}

// PrintBucketStatus 打印存储桶状态报告
func PrintBucketStatus(w io.Writer, objects []ObjectInfo, stats *BucketStats) {
	fmt.Fprintf(w, "\n📊 存储桶状态报告: %s\n", stats.Bucket)
	fmt.Fprintf(w, "🔍 前缀过滤: %s\n", stats.Prefix)
	fmt.Fprintf(w, "📝 总文件数: %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "💾 总存储大小: %s\n", humanize.IBytes(uint64(stats.TotalSize)))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "🕒 最后更新时间: %s (%s)\n",
			stats.LastModified.Format("2006-01-02 15:04:05"), humanize.Time(stats.LastModified))
	}

	exts := make([]string, 0, len(stats.TypeStats))
	for ext := range stats.TypeStats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	fmt.Fprintln(w, "\n文件类型统计:")
	for _, ext := range exts {
		fmt.Fprintf(w, "  %s: %d 个文件\n", ext, stats.TypeStats[ext])
	}

	fmt.Fprintln(w, "\n📋 文件列表:")
	for _, obj := range objects {
		fmt.Fprintf(w, "  ├─ %s\n", obj.Key)
		fmt.Fprintf(w, "  │  ├─ 大小: %s\n", humanize.IBytes(uint64(obj.Size)))
		fmt.Fprintf(w, "  │  └─ 修改时间: %s\n", obj.LastModified.Format("2006-01-02 15:04:05"))
	}
}

// DeleteArchived 删除前缀下的所有对象，返回删除数量
func (s *MinioStore) DeleteArchived(ctx context.Context, prefix string) (int, error) {
	if strings.Trim(prefix, "/") == "" {
		return 0, fmt.Errorf("拒绝删除整个存储桶，必须指定前缀")
	}

	var toDelete []minio.ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return 0, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		toDelete = append(toDelete, object)
	}
	if len(toDelete) == 0 {
		return 0, fmt.Errorf("目录 %s 为空或不存在", prefix)
	}

	objectsCh := make(chan minio.ObjectInfo, len(toDelete))
	for _, obj := range toDelete {
		objectsCh <- obj
	}
	close(objectsCh)

	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return 0, fmt.Errorf("删除对象 %s 失败: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return len(toDelete), nil
}

func fileExtension(key string) string {
	ext := strings.TrimPrefix(path.Ext(key), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}
