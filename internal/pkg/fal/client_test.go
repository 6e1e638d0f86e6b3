package fal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"filmforge/internal/pkg/generation"
)

func TestNewClient(t *testing.T) {
	Convey("NewClient 校验配置", t, func() {
		Convey("缺少 API Key 时报错", func() {
			_, err := NewClient(Config{})
			So(err, ShouldNotBeNil)
		})

		Convey("BaseURL 默认指向官方队列 API", func() {
			c, err := NewClient(Config{APIKey: "test-key"})
			So(err, ShouldBeNil)
			So(c.baseURL, ShouldEqual, "https://queue.fal.run")
		})

		Convey("BaseURL 末尾斜杠会被裁掉", func() {
			c, err := NewClient(Config{APIKey: "test-key", BaseURL: "http://localhost:8080/"})
			So(err, ShouldBeNil)
			So(c.baseURL, ShouldEqual, "http://localhost:8080")
		})
	})
}

func TestClientSubmit(t *testing.T) {
	Convey("提交任务到队列 API", t, func() {
		ctx := context.Background()
		var gotPath, gotAuth, gotWebhook string
		var gotBody map[string]interface{}

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			gotWebhook = r.URL.Query().Get("fal_webhook")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-abc"})
		}))
		defer server.Close()

		client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
		So(err, ShouldBeNil)

		Convey("文生视频带上模型路径、鉴权和回调地址", func() {
			requestID, err := client.SubmitTextToVideo(ctx, &generation.TextToVideoRequest{
				Model:      "fal-ai/minimax-video",
				Prompt:     "a cat in the rain",
				WebhookURL: "https://api.example.com/api/v1/webhooks/generation",
			})
			So(err, ShouldBeNil)
			So(requestID, ShouldEqual, "req-abc")
			So(gotPath, ShouldEqual, "/fal-ai/minimax-video")
			So(gotAuth, ShouldEqual, "Key test-key")
			So(gotWebhook, ShouldEqual, "https://api.example.com/api/v1/webhooks/generation")
			So(gotBody["prompt"], ShouldEqual, "a cat in the rain")
		})

		Convey("图生视频携带首帧图片URL", func() {
			_, err := client.SubmitImageToVideo(ctx, &generation.ImageToVideoRequest{
				Model:    "fal-ai/minimax-video",
				Prompt:   "the cat walks away",
				ImageURL: "https://cdn.example.com/last_frame.jpg",
			})
			So(err, ShouldBeNil)
			So(gotBody["image_url"], ShouldEqual, "https://cdn.example.com/last_frame.jpg")
			So(gotWebhook, ShouldBeEmpty)
		})
	})

	Convey("提交失败的各种情况", t, func() {
		ctx := context.Background()

		Convey("非 2xx 响应返回错误", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"invalid model"}`, http.StatusUnprocessableEntity)
			}))
			defer server.Close()

			client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
			_, err := client.SubmitTextToVideo(ctx, &generation.TextToVideoRequest{
				Model:  "not-a-model",
				Prompt: "p",
			})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "422")
		})

		Convey("响应里没有 request_id 视为错误", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{})
			}))
			defer server.Close()

			client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
			_, err := client.SubmitTextToVideo(ctx, &generation.TextToVideoRequest{
				Model:  "fal-ai/minimax-video",
				Prompt: "p",
			})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestClientPollStatus(t *testing.T) {
	Convey("轮询任务状态并归一化", t, func() {
		ctx := context.Background()

		newServer := func(status string, result map[string]interface{}) *httptest.Server {
			return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/fal-ai/minimax-video/requests/req-abc/status":
					_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
				case "/fal-ai/minimax-video/requests/req-abc":
					_ = json.NewEncoder(w).Encode(result)
				default:
					http.NotFound(w, r)
				}
			}))
		}

		Convey("排队和处理中都归一为 processing", func() {
			for _, providerStatus := range []string{"IN_QUEUE", "IN_PROGRESS"} {
				server := newServer(providerStatus, nil)
				client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})

				status, err := client.PollStatus(ctx, "fal-ai/minimax-video", "req-abc")
				So(err, ShouldBeNil)
				So(status.State, ShouldEqual, generation.JobStateProcessing)
				server.Close()
			}
		})

		Convey("完成时追加结果请求取回视频URL", func() {
			server := newServer("COMPLETED", map[string]interface{}{
				"video": map[string]string{"url": "https://v3.fal.media/files/output.mp4"},
			})
			defer server.Close()
			client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})

			status, err := client.PollStatus(ctx, "fal-ai/minimax-video", "req-abc")
			So(err, ShouldBeNil)
			So(status.State, ShouldEqual, generation.JobStateCompleted)
			So(status.VideoURL, ShouldEqual, "https://v3.fal.media/files/output.mp4")
		})

		Convey("未知状态归一为 failed 并带上原始状态", func() {
			server := newServer("FAILED", nil)
			defer server.Close()
			client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})

			status, err := client.PollStatus(ctx, "fal-ai/minimax-video", "req-abc")
			So(err, ShouldBeNil)
			So(status.State, ShouldEqual, generation.JobStateFailed)
			So(status.ErrorMessage, ShouldContainSubstring, "FAILED")
		})

		Convey("404 映射为 ErrJobNotFound", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			}))
			defer server.Close()
			client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})

			_, err := client.PollStatus(ctx, "fal-ai/minimax-video", "req-gone")
			So(errors.Is(err, generation.ErrJobNotFound), ShouldBeTrue)
		})
	})
}
