package generation

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound 提供商侧查不到任务（通常意味着任务已过期被清理）
	ErrJobNotFound = errors.New("generation job not found")
)

// JobState 提供商任务状态（已归一化）
type JobState string

const (
	JobStateProcessing JobState = "processing" // 排队或处理中
	JobStateCompleted  JobState = "completed"  // 完成
	JobStateFailed     JobState = "failed"     // 失败
)

// JobStatus 任务状态查询结果
type JobStatus struct {
	State        JobState // 归一化状态
	VideoURL     string   // 完成时的视频URL
	ErrorMessage string   // 失败时的错误描述
}

// TextToVideoRequest 文生视频请求
type TextToVideoRequest struct {
	Model       string // 模型标识
	Prompt      string // 提示词
	AspectRatio string // 画面比例（可选）
	WebhookURL  string // 回调地址（可选，空则纯轮询）
}

// ImageToVideoRequest 图生视频请求
type ImageToVideoRequest struct {
	Model       string // 模型标识
	Prompt      string // 提示词
	ImageURL    string // 首帧图片URL
	AspectRatio string // 画面比例（可选）
	WebhookURL  string // 回调地址（可选）
}

// Provider 视频生成提供商抽象
// 提交接口必须是异步的：只返回提供商任务ID，完成与否靠回调或 PollStatus 兜底
type Provider interface {
	// SubmitTextToVideo 提交文生视频任务，返回提供商任务ID
	SubmitTextToVideo(ctx context.Context, req *TextToVideoRequest) (string, error)

	// SubmitImageToVideo 提交图生视频任务，返回提供商任务ID
	SubmitImageToVideo(ctx context.Context, req *ImageToVideoRequest) (string, error)

	// PollStatus 查询任务状态；任务在提供商侧不存在时返回 ErrJobNotFound
	PollStatus(ctx context.Context, model, requestID string) (*JobStatus, error)
}
