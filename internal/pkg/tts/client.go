package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"filmforge/internal/pkg/id"
)

// Config TTS 配置
type Config struct {
	APIURL      string // API 地址，默认: https://openspeech.bytedance.com/api/v1/tts
	AccessToken string // 访问令牌（必需）
	AppID       string // 应用ID（可选）
	Cluster     string // 集群名称，默认: volcano_tts
	SampleRate  int    // 采样率，默认: 44100
}

// Client TTS 客户端封装
// 调用火山引擎 TTS API 合成解说音频，返回 MP3 数据
// 参考: https://openspeech.bytedance.com/api/v1/tts
type Client struct {
	apiURL      string
	accessToken string
	appID       string
	cluster     string
	sampleRate  int
	httpClient  *http.Client
}

// NewClient 创建 TTS 客户端
func NewClient(config Config) (*Client, error) {
	if config.AccessToken == "" {
		return nil, fmt.Errorf("TTS access token is required")
	}

	apiURL := config.APIURL
	if apiURL == "" {
		apiURL = "https://openspeech.bytedance.com/api/v1/tts"
	}

	cluster := config.Cluster
	if cluster == "" {
		cluster = "volcano_tts"
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = 44100
	}

	return &Client{
		apiURL:      apiURL,
		accessToken: config.AccessToken,
		appID:       config.AppID,
		cluster:     cluster,
		sampleRate:  sampleRate,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Synthesize 合成语音
// voice 为声音类型（如 BV115_streaming），speedRatio 为语速倍率（1.0 为原速）
func (c *Client) Synthesize(ctx context.Context, text, voice string, speedRatio float64) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text is empty")
	}
	if speedRatio <= 0 {
		speedRatio = 1.0
	}

	requestID := id.New()
	reqBody, err := json.Marshal(c.buildRequestConfig(text, voice, requestID, speedRatio))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// 火山 TTS 的鉴权格式是 "Bearer; token"，分号不是笔误
	req.Header.Set("Authorization", fmt.Sprintf("Bearer; %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")

	log.Debug().
		Str("request_id", requestID).
		Str("voice", voice).
		Int("text_len", len([]rune(text))).
		Msg("sending TTS request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if apiResp.Code != 3000 {
		message := apiResp.Message
		if message == "" {
			message = "unknown error"
		}
		return nil, fmt.Errorf("API response error: %s (code: %d)", message, apiResp.Code)
	}

	if apiResp.Data == "" {
		return nil, fmt.Errorf("audio data not found in response")
	}

	audioData, err := base64.StdEncoding.DecodeString(apiResp.Data)
	if err != nil {
		return nil, fmt.Errorf("decode audio data: %w", err)
	}

	return audioData, nil
}

// buildRequestConfig 构建请求配置
func (c *Client) buildRequestConfig(text, voice, requestID string, speedRatio float64) map[string]interface{} {
	appConfig := map[string]interface{}{
		"token":   c.accessToken,
		"cluster": c.cluster,
	}
	if c.appID != "" {
		appConfig["appid"] = c.appID
	}

	return map[string]interface{}{
		"app": appConfig,
		"user": map[string]interface{}{
			"uid": requestID,
		},
		"audio": map[string]interface{}{
			"voice_type":  voice,
			"encoding":    "mp3",
			"sample_rate": c.sampleRate,
			"speed_ratio": speedRatio,
		},
		"request": map[string]interface{}{
			"reqid":     requestID,
			"text":      text,
			"text_type": "plain",
			"operation": "query",
		},
	}
}
