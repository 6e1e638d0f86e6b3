package ark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"

	"filmforge/internal/pkg/generation"
)

// VideoConfig Ark 视频生成配置
type VideoConfig struct {
	APIKey  string // API Key（必需）
	BaseURL string // API 基础 URL（可选，默认: https://ark.cn-beijing.volces.com/api/v3）
}

// VideoClient Ark 视频生成客户端
// 调用火山引擎 Ark 的内容生成任务 API（contents/generations/tasks）
// 任务 API 为异步接口，这里只做提交和状态查询，不在客户端内阻塞等待
type VideoClient struct {
	client  *arkruntime.Client
	baseURL string
	apiKey  string
}

// NewVideoClient 创建 Ark 视频生成客户端
func NewVideoClient(config VideoConfig) (*VideoClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ark API key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://ark.cn-beijing.volces.com/api/v3"
	}

	var opts []arkruntime.ConfigOption
	opts = append(opts, arkruntime.WithBaseUrl(baseURL))
	arkClient := arkruntime.NewClientWithApiKey(config.APIKey, opts...)

	return &VideoClient{
		client:  arkClient,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  config.APIKey,
	}, nil
}

// SubmitTextToVideo 提交文生视频任务
func (c *VideoClient) SubmitTextToVideo(ctx context.Context, req *generation.TextToVideoRequest) (string, error) {
	content := []map[string]interface{}{
		{"type": "text", "text": req.Prompt},
	}
	return c.createTask(ctx, req.Model, content, req.AspectRatio)
}

// SubmitImageToVideo 提交图生视频任务
func (c *VideoClient) SubmitImageToVideo(ctx context.Context, req *generation.ImageToVideoRequest) (string, error) {
	content := []map[string]interface{}{
		{"type": "text", "text": req.Prompt},
		{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": req.ImageURL,
			},
		},
	}
	return c.createTask(ctx, req.Model, content, req.AspectRatio)
}

// createTask 创建视频生成任务
// 参考官方文档: https://www.volcengine.com/docs/82379/1520757
func (c *VideoClient) createTask(ctx context.Context, model string, content []map[string]interface{}, ratio string) (string, error) {
	if ratio == "" {
		ratio = "16:9"
	}

	requestBody := map[string]interface{}{
		"model":     model,
		"content":   content,
		"ratio":     ratio,
		"watermark": false,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	apiURL := fmt.Sprintf("%s/contents/generations/tasks", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	log.Debug().
		Str("api_url", apiURL).
		Str("model", model).
		Msg("创建视频生成任务")

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error().
			Int("status_code", resp.StatusCode).
			Str("url", apiURL).
			Str("response_body", string(body)).
			Msg("API 请求失败")
		return "", fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if apiResp.ID == "" {
		return "", fmt.Errorf("task ID is empty in response")
	}

	return apiResp.ID, nil
}

// PollStatus 查询任务状态
// 参考官方文档: https://www.volcengine.com/docs/82379/1521309
func (c *VideoClient) PollStatus(ctx context.Context, model, requestID string) (*generation.JobStatus, error) {
	apiURL := fmt.Sprintf("%s/contents/generations/tasks/%s", c.baseURL, requestID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, generation.ErrJobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Status  string `json:"status"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
		Content struct {
			VideoURL string `json:"video_url"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch apiResp.Status {
	case "queued", "running":
		return &generation.JobStatus{State: generation.JobStateProcessing}, nil
	case "succeeded", "completed":
		if apiResp.Content.VideoURL == "" {
			return nil, fmt.Errorf("video URL is empty in completed task")
		}
		return &generation.JobStatus{State: generation.JobStateCompleted, VideoURL: apiResp.Content.VideoURL}, nil
	case "expired":
		return nil, generation.ErrJobNotFound
	default:
		msg := apiResp.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("provider status: %s", apiResp.Status)
		}
		return &generation.JobStatus{State: generation.JobStateFailed, ErrorMessage: msg}, nil
	}
}
