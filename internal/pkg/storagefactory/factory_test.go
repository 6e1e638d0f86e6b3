package storagefactory

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"filmforge/internal/config"
)

func TestNewStorage(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		cfg      *config.StorageConfig
		wantErr  bool
		wantType string
	}{
		{
			name: "valid local storage config",
			cfg: &config.StorageConfig{
				Type: "local",
				Local: &config.LocalConfig{
					BasePath: tmpDir,
					BaseURL:  "http://localhost:8080/static",
				},
			},
			wantErr:  false,
			wantType: "local",
		},
		{
			name: "missing local config",
			cfg: &config.StorageConfig{
				Type:  "local",
				Local: nil,
			},
			wantErr: true,
		},
		{
			name: "missing oss config",
			cfg: &config.StorageConfig{
				Type: "oss",
				OSS:  nil,
			},
			wantErr: true,
		},
		{
			name: "unsupported storage type",
			cfg: &config.StorageConfig{
				Type: "invalid",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStorage(tt.cfg)

			if tt.wantErr {
				if err == nil {
					t.Errorf("NewStorage() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("NewStorage() unexpected error: %v", err)
				return
			}
			if store.GetStorageType() != tt.wantType {
				t.Errorf("GetStorageType() = %v, want %v", store.GetStorageType(), tt.wantType)
			}
		})
	}
}

func TestLocalStorageOperations(t *testing.T) {
	tmpDir := t.TempDir()
	baseURL := "http://localhost:8080/static"

	cfg := &config.StorageConfig{
		Type: "local",
		Local: &config.LocalConfig{
			BasePath: tmpDir,
			BaseURL:  baseURL,
		},
	}

	ctx := context.Background()
	store, err := NewStorage(cfg)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	testKey := "projects/p1/scenes/1/scene.mp4"
	testContent := "fake video bytes"

	url, err := store.Upload(ctx, testKey, strings.NewReader(testContent), "video/mp4")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	expectedURL := baseURL + "/" + testKey
	if url != expectedURL {
		t.Errorf("Upload() url = %v, want %v", url, expectedURL)
	}

	exists, err := store.Exists(ctx, testKey)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Errorf("Exists() = false, want true")
	}

	reader, err := store.Download(ctx, testKey)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer reader.Close()

	downloaded, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(downloaded) != testContent {
		t.Errorf("Download() content = %v, want %v", string(downloaded), testContent)
	}

	if err := store.Delete(ctx, testKey); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	exists, err = store.Exists(ctx, testKey)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Errorf("Exists() = true, want false (file should be deleted)")
	}

	// 删除不存在的文件应该成功
	if err := store.Delete(ctx, "nonexistent/file.mp4"); err != nil {
		t.Errorf("Delete() error = %v, should succeed for non-existent file", err)
	}

	// 下载不存在的文件应该报错
	if _, err := store.Download(ctx, "nonexistent/file.mp4"); err == nil {
		t.Errorf("Download() expected error for non-existent file, got nil")
	}
}

func TestLocalStorageURLs(t *testing.T) {
	cfg := &config.StorageConfig{
		Type: "local",
		Local: &config.LocalConfig{
			BasePath: t.TempDir(),
			BaseURL:  "http://localhost:8080/static",
		},
	}

	ctx := context.Background()
	store, err := NewStorage(cfg)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	key := "projects/p1/final.mp4"
	wantURL := "http://localhost:8080/static/" + key

	if got := store.GetPublicURL(key); got != wantURL {
		t.Errorf("GetPublicURL() = %v, want %v", got, wantURL)
	}

	// 本地存储没有签名机制，限时URL退化为公开URL
	uploadURL, err := store.GetPresignedUploadURL(ctx, key, "video/mp4", time.Hour)
	if err != nil {
		t.Fatalf("GetPresignedUploadURL() error = %v", err)
	}
	if uploadURL != wantURL {
		t.Errorf("GetPresignedUploadURL() = %v, want %v", uploadURL, wantURL)
	}

	downloadURL, err := store.GetPresignedDownloadURL(ctx, key, time.Hour)
	if err != nil {
		t.Fatalf("GetPresignedDownloadURL() error = %v", err)
	}
	if downloadURL != wantURL {
		t.Errorf("GetPresignedDownloadURL() = %v, want %v", downloadURL, wantURL)
	}
}
