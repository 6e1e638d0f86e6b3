package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client FFmpeg 客户端
// 用于封装 FFmpeg 命令调用
type Client struct {
	ffmpegPath  string // FFmpeg 可执行文件路径（默认: ffmpeg）
	ffprobePath string // FFprobe 可执行文件路径（默认: ffprobe）
}

// NewClient 创建 FFmpeg 客户端
func NewClient() *Client {
	ffmpegPath := os.Getenv("FFMPEG_PATH")
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	ffprobePath := os.Getenv("FFPROBE_PATH")
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	return &Client{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// VideoInfo 视频信息
type VideoInfo struct {
	Width    int     // 宽度
	Height   int     // 高度
	FPS      float64 // 帧率
	Duration float64 // 时长（秒）
}

// GetVideoInfo 获取视频信息
func (c *Client) GetVideoInfo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	// ffprobe -v error -select_streams v:0 -show_entries stream=width,height,r_frame_rate -show_entries format=duration -of json video.mp4
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	outputStr := string(output)
	var info VideoInfo

	if idx := strings.Index(outputStr, `"width":`); idx != -1 {
		var width int
		if _, err := fmt.Sscanf(outputStr[idx:], `"width":%d`, &width); err == nil {
			info.Width = width
		}
	}

	if idx := strings.Index(outputStr, `"height":`); idx != -1 {
		var height int
		if _, err := fmt.Sscanf(outputStr[idx:], `"height":%d`, &height); err == nil {
			info.Height = height
		}
	}

	if idx := strings.Index(outputStr, `"duration":`); idx != -1 {
		var duration float64
		if _, err := fmt.Sscanf(outputStr[idx:], `"duration":"%f"`, &duration); err == nil {
			info.Duration = duration
		}
	}

	// r_frame_rate 格式: "30000/1001"
	if idx := strings.Index(outputStr, `"r_frame_rate":`); idx != -1 {
		var num, den int
		if _, err := fmt.Sscanf(outputStr[idx:], `"r_frame_rate":"%d/%d"`, &num, &den); err == nil && den > 0 {
			info.FPS = float64(num) / float64(den)
		}
	}

	return &info, nil
}

// ReplaceAudio 替换视频音轨
// 视频流直接复制，音频重编码为 AAC；-shortest 保证输出以较短的流为准
func (c *Client) ReplaceAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "160k",
		"-shortest",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg replace audio failed: %w", err)
	}

	log.Info().
		Str("video", videoPath).
		Str("audio", audioPath).
		Str("output", outputPath).
		Msg("音轨替换成功")

	return nil
}

// ExtractLastFrame 提取视频最后一帧为 JPEG
func (c *Client) ExtractLastFrame(ctx context.Context, videoPath, outputPath string) error {
	// 先探测时长，再在结束前 0.1 秒处取一帧，避免 seek 越过文件末尾
	info, err := c.GetVideoInfo(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("probe video: %w", err)
	}

	seekTo := info.Duration - 0.1
	if seekTo < 0 {
		seekTo = 0
	}

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.2f", seekTo),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg extract frame failed: %w", err)
	}

	log.Info().
		Str("video", videoPath).
		Str("output", outputPath).
		Float64("at", seekTo).
		Msg("尾帧提取成功")

	return nil
}

// ConcatVideos 合并多个视频文件
// 使用 concat demuxer（需要创建 concat list 文件）
func (c *Client) ConcatVideos(ctx context.Context, videoPaths []string, outputPath string) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("no videos to concat")
	}

	tempDir := filepath.Dir(outputPath)
	concatListFile := filepath.Join(tempDir, fmt.Sprintf("concat_list_%d.txt", time.Now().Unix()))

	file, err := os.Create(concatListFile)
	if err != nil {
		return fmt.Errorf("create concat list file: %w", err)
	}
	defer os.Remove(concatListFile)

	for _, videoPath := range videoPaths {
		absPath, err := filepath.Abs(videoPath)
		if err != nil {
			file.Close()
			return fmt.Errorf("get absolute path: %w", err)
		}
		fmt.Fprintf(file, "file '%s'\n", absPath)
	}
	file.Close()

	// ffmpeg -f concat -safe 0 -i concat_list.txt -c copy output.mp4
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatListFile,
		"-c", "copy", // 使用 copy 避免重新编码
		outputPath,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w", err)
	}

	log.Info().
		Int("count", len(videoPaths)).
		Str("output", outputPath).
		Msg("视频合并成功")

	return nil
}
