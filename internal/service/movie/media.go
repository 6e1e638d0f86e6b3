package movie

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"filmforge/internal/pkg/ffmpeg"
	"filmforge/internal/pkg/storage"
)

// 单次媒体加工的耗时上限，必须都小于 sweep 锁的有效期，
// 卡死的外部进程到点会被杀掉，不会拖着 sweep 越过锁过期线
const (
	defaultMuxTimeout     = 2 * time.Minute
	defaultPublishTimeout = 2 * time.Minute
	defaultConcatTimeout  = 3 * time.Minute
)

// MediaService 媒体加工服务
// 封装解说混音、场景发布（下载、转存、尾帧提取）和最终成片合成，
// 每次调用都在独立的临时目录里完成，任何退出路径都会清理
type MediaService struct {
	ffmpeg     *ffmpeg.Client
	storage    storage.Storage
	httpClient *http.Client

	muxTimeout     time.Duration
	publishTimeout time.Duration
	concatTimeout  time.Duration
}

// NewMediaService 创建媒体加工服务
func NewMediaService(ffmpegClient *ffmpeg.Client, store storage.Storage) *MediaService {
	return &MediaService{
		ffmpeg:  ffmpegClient,
		storage: store,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		muxTimeout:     defaultMuxTimeout,
		publishTimeout: defaultPublishTimeout,
		concatTimeout:  defaultConcatTimeout,
	}
}

// MuxNarration 把解说音频混到场景视频上，返回混音后的视频URL
func (s *MediaService) MuxNarration(ctx context.Context, projectID string, sceneNumber int, videoURL string, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.muxTimeout)
	defer cancel()

	tempDir, err := os.MkdirTemp("", "filmforge-mux-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	videoPath := filepath.Join(tempDir, "scene.mp4")
	if err := s.downloadToFile(ctx, videoURL, videoPath); err != nil {
		return "", fmt.Errorf("download scene video: %w", err)
	}

	audioPath := filepath.Join(tempDir, "narration.mp3")
	if err := os.WriteFile(audioPath, audio, 0644); err != nil {
		return "", fmt.Errorf("write narration audio: %w", err)
	}

	outputPath := filepath.Join(tempDir, "narrated.mp4")
	if err := s.ffmpeg.ReplaceAudio(ctx, videoPath, audioPath, outputPath); err != nil {
		return "", fmt.Errorf("mux narration: %w", err)
	}

	key := fmt.Sprintf("projects/%s/scenes/%d/narrated.mp4", projectID, sceneNumber)
	url, err := s.uploadFile(ctx, outputPath, key, "video/mp4")
	if err != nil {
		return "", fmt.Errorf("upload narrated video: %w", err)
	}

	return url, nil
}

// PublishScene 把场景视频转存到永久存储并提取尾帧
// 尾帧提取失败不算发布失败：下一个场景退化为文生视频，流水线继续走
func (s *MediaService) PublishScene(ctx context.Context, projectID string, sceneNumber int, videoURL string) (publicURL, lastFrameURL string, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	tempDir, err := os.MkdirTemp("", "filmforge-publish-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	videoPath := filepath.Join(tempDir, "scene.mp4")
	if err := s.downloadToFile(ctx, videoURL, videoPath); err != nil {
		return "", "", fmt.Errorf("download scene video: %w", err)
	}

	videoKey := fmt.Sprintf("projects/%s/scenes/%d/scene.mp4", projectID, sceneNumber)
	publicURL, err = s.uploadFile(ctx, videoPath, videoKey, "video/mp4")
	if err != nil {
		return "", "", fmt.Errorf("upload scene video: %w", err)
	}

	framePath := filepath.Join(tempDir, "last_frame.jpg")
	if frameErr := s.ffmpeg.ExtractLastFrame(ctx, videoPath, framePath); frameErr != nil {
		log.Warn().
			Err(frameErr).
			Str("project_id", projectID).
			Int("scene_number", sceneNumber).
			Msg("尾帧提取失败，下一场景将退化为文生视频")
		return publicURL, "", nil
	}

	frameKey := fmt.Sprintf("projects/%s/scenes/%d/last_frame.jpg", projectID, sceneNumber)
	lastFrameURL, frameErr := s.uploadFile(ctx, framePath, frameKey, "image/jpeg")
	if frameErr != nil {
		log.Warn().
			Err(frameErr).
			Str("project_id", projectID).
			Int("scene_number", sceneNumber).
			Msg("尾帧上传失败，下一场景将退化为文生视频")
		return publicURL, "", nil
	}

	return publicURL, lastFrameURL, nil
}

// ConcatScenes 把全部已完成场景按顺序合成最终成片
// 返回成片URL和总时长（秒）
func (s *MediaService) ConcatScenes(ctx context.Context, projectID string, videoURLs []string) (string, float64, error) {
	if len(videoURLs) == 0 {
		return "", 0, fmt.Errorf("no scene videos to concat")
	}

	ctx, cancel := context.WithTimeout(ctx, s.concatTimeout)
	defer cancel()

	tempDir, err := os.MkdirTemp("", "filmforge-concat-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	localPaths := make([]string, 0, len(videoURLs))
	for i, url := range videoURLs {
		path := filepath.Join(tempDir, fmt.Sprintf("scene_%03d.mp4", i+1))
		if err := s.downloadToFile(ctx, url, path); err != nil {
			return "", 0, fmt.Errorf("download scene %d: %w", i+1, err)
		}
		localPaths = append(localPaths, path)
	}

	outputPath := filepath.Join(tempDir, "final.mp4")
	if err := s.ffmpeg.ConcatVideos(ctx, localPaths, outputPath); err != nil {
		return "", 0, fmt.Errorf("concat scenes: %w", err)
	}

	info, err := s.ffmpeg.GetVideoInfo(ctx, outputPath)
	if err != nil {
		return "", 0, fmt.Errorf("probe final video: %w", err)
	}

	key := fmt.Sprintf("projects/%s/final.mp4", projectID)
	url, err := s.uploadFile(ctx, outputPath, key, "video/mp4")
	if err != nil {
		return "", 0, fmt.Errorf("upload final video: %w", err)
	}

	return url, info.Duration, nil
}

// downloadToFile 下载URL内容到本地文件
func (s *MediaService) downloadToFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// uploadFile 上传本地文件到永久存储
func (s *MediaService) uploadFile(ctx context.Context, path, key, contentType string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return s.storage.Upload(ctx, key, file, contentType)
}
