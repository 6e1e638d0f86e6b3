package storage

import (
	"context"
	"io"
	"time"
)

// Storage 存储接口
// 片段视频、尾帧图片和最终成片都通过这里落到永久存储
type Storage interface {
	// Upload 上传文件，返回可公开访问的URL
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error)

	// Download 下载文件
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除文件
	Delete(ctx context.Context, key string) error

	// Exists 检查文件是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// GetPublicURL 获取文件的公开访问URL（不校验文件是否存在）
	GetPublicURL(key string) string

	// GetPresignedUploadURL 生成限时上传URL，供外部服务直传
	GetPresignedUploadURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)

	// GetPresignedDownloadURL 生成限时下载URL
	GetPresignedDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// GetStorageType 获取存储类型
	GetStorageType() string
}

// StorageType 存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local" // 本地文件系统
	StorageTypeOSS   StorageType = "oss"   // 阿里云OSS
)
