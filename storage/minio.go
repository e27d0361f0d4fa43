package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"undersounds/config"
	"undersounds/core/apperr"
	"undersounds/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore 冷存储层，归档时上传主文件，恢复时按 URL 取回
type ObjectStore interface {
	Upload(ctx context.Context, localPath, folder string) (string, error)
	Download(ctx context.Context, objectURL string, w io.Writer) error
}

// MinioStore implements ObjectStore on a single MinIO bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string // scheme://host[/prefix], object URL = baseURL/bucket/key
}

var _ ObjectStore = (*MinioStore)(nil)

// NewMinioStore 创建 MinIO 客户端并确保存储桶存在
func NewMinioStore(ctx context.Context, cfg *config.Config) (*MinioStore, error) {
	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("region", cfg.MinioRegion),
		logger.String("bucket", cfg.MinioBucket),
		logger.String("accessKey", mask(cfg.MinioAccessKey)))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &MinioStore{
		client:  client,
		bucket:  cfg.MinioBucket,
		baseURL: publicBaseURL(cfg),
	}, nil
}

func publicBaseURL(cfg *config.Config) string {
	if cfg.MinioPublicURL != "" {
		return cfg.MinioPublicURL
	}
	scheme := "http"
	if cfg.MinioUseSSL {
		scheme = "https"
	}
	return scheme + "://" + cfg.MinioEndpoint
}

func mask(s string) string {
	if len(s) > 4 {
		return s[:4] + "..."
	}
	return "***"
}

// Client exposes the underlying client for bucket inspection commands.
func (s *MinioStore) Client() *minio.Client { return s.client }

// Bucket returns the bucket name.
func (s *MinioStore) Bucket() string { return s.bucket }

// Upload 上传本地文件到 folder/<文件名>，返回对象的公开 URL
func (s *MinioStore) Upload(ctx context.Context, localPath, folder string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.NotFound("local file %s not found", localPath)
		}
		return "", apperr.TransientIO(err, "open %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", apperr.TransientIO(err, "stat %s", localPath)
	}

	key := path.Join(folder, filepath.Base(localPath))
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	start := time.Now()
	uploaded, err := s.client.PutObject(ctx, s.bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", apperr.TransientIO(err, "upload %s to %s/%s", localPath, s.bucket, key)
	}

	logger.Info("文件已上传到 MinIO",
		logger.String("key", key),
		logger.Int64("size", uploaded.Size),
		logger.Duration("elapsed", time.Since(start)))
	return s.ObjectURL(key), nil
}

// Download streams the object behind objectURL into w.
func (s *MinioStore) Download(ctx context.Context, objectURL string, w io.Writer) error {
	key, err := ObjectKeyFromURL(objectURL, s.bucket)
	if err != nil {
		return err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return apperr.TransientIO(err, "get object %s", key)
	}
	defer obj.Close()

	if _, err := io.Copy(w, obj); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return apperr.NotFound("object %s not found in bucket %s", key, s.bucket)
		}
		return apperr.TransientIO(err, "download object %s", key)
	}
	return nil
}

// ObjectURL builds the public URL of key.
func (s *MinioStore) ObjectURL(key string) string {
	return s.baseURL + "/" + s.bucket + "/" + strings.TrimLeft(key, "/")
}

// ObjectKeyFromURL extracts the object key from a URL produced by ObjectURL.
func ObjectKeyFromURL(objectURL, bucket string) (string, error) {
	u, err := url.Parse(objectURL)
	if err != nil {
		return "", apperr.InvalidRequest("invalid object url %q", objectURL)
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		p = u.Path
	}
	marker := "/" + bucket + "/"
	idx := strings.Index(p, marker)
	if idx < 0 {
		return "", apperr.InvalidRequest("object url %q does not belong to bucket %s", objectURL, bucket)
	}
	key := p[idx+len(marker):]
	if key == "" {
		return "", apperr.InvalidRequest("object url %q has no key", objectURL)
	}
	return key, nil
}
