package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"filmforge/internal/pkg/generation"
)

// Config fal.ai 客户端配置
type Config struct {
	APIKey  string // API Key（必需）
	BaseURL string // 队列API地址（可选，默认: https://queue.fal.run）
}

// Client fal.ai 队列 API 客户端
// 提交走 POST https://queue.fal.run/{model}，状态走
// GET /{model}/requests/{request_id}/status，结果走 GET /{model}/requests/{request_id}
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建 fal.ai 客户端
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("fal API key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

// SubmitTextToVideo 提交文生视频任务
func (c *Client) SubmitTextToVideo(ctx context.Context, req *generation.TextToVideoRequest) (string, error) {
	payload := map[string]interface{}{
		"prompt": req.Prompt,
	}
	if req.AspectRatio != "" {
		payload["aspect_ratio"] = req.AspectRatio
	}
	return c.submit(ctx, req.Model, req.WebhookURL, payload)
}

// SubmitImageToVideo 提交图生视频任务
func (c *Client) SubmitImageToVideo(ctx context.Context, req *generation.ImageToVideoRequest) (string, error) {
	payload := map[string]interface{}{
		"prompt":    req.Prompt,
		"image_url": req.ImageURL,
	}
	if req.AspectRatio != "" {
		payload["aspect_ratio"] = req.AspectRatio
	}
	return c.submit(ctx, req.Model, req.WebhookURL, payload)
}

// submit 提交任务到队列 API，返回 request_id
func (c *Client) submit(ctx context.Context, model, webhookURL string, payload map[string]interface{}) (string, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	apiURL := fmt.Sprintf("%s/%s", c.baseURL, model)
	if webhookURL != "" {
		apiURL = fmt.Sprintf("%s?fal_webhook=%s", apiURL, url.QueryEscape(webhookURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Key %s", c.apiKey))

	log.Debug().
		Str("model", model).
		Bool("webhook", webhookURL != "").
		Msg("submitting generation job")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		log.Error().
			Int("status_code", resp.StatusCode).
			Str("model", model).
			Str("response_body", string(body)).
			Msg("提交生成任务失败")
		return "", fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if apiResp.RequestID == "" {
		return "", fmt.Errorf("request_id is empty in response")
	}

	return apiResp.RequestID, nil
}

// PollStatus 查询任务状态
// 任务完成时会追加一次结果请求取出视频URL
func (c *Client) PollStatus(ctx context.Context, model, requestID string) (*generation.JobStatus, error) {
	statusURL := fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, model, requestID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Key %s", c.apiKey))

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

	var statusResp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statusResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch statusResp.Status {
	case "IN_QUEUE", "IN_PROGRESS":
		return &generation.JobStatus{State: generation.JobStateProcessing}, nil
	case "COMPLETED":
		videoURL, err := c.fetchResult(ctx, model, requestID)
		if err != nil {
			return nil, err
		}
		return &generation.JobStatus{State: generation.JobStateCompleted, VideoURL: videoURL}, nil
	default:
		msg := statusResp.Error
		if msg == "" {
			msg = fmt.Sprintf("provider status: %s", statusResp.Status)
		}
		return &generation.JobStatus{State: generation.JobStateFailed, ErrorMessage: msg}, nil
	}
}

// fetchResult 获取已完成任务的结果
func (c *Client) fetchResult(ctx context.Context, model, requestID string) (string, error) {
	resultURL := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, model, requestID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Key %s", c.apiKey))

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var resultResp struct {
		Video struct {
			URL string `json:"url"`
		} `json:"video"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&resultResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if resultResp.Video.URL == "" {
		return "", fmt.Errorf("video URL is empty in completed result")
	}

	return resultResp.Video.URL, nil
}
