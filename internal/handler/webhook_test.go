package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/mongo"

	"filmforge/internal/model/movie"
	moviesvc "filmforge/internal/service/movie"
)

// stubGenerationRepo 单条记录的内存实现，覆盖回调路径需要的行为
type stubGenerationRepo struct {
	gen *movie.Generation
}

func (r *stubGenerationRepo) Create(ctx context.Context, g *movie.Generation) error { return nil }

func (r *stubGenerationRepo) FindByID(ctx context.Context, id string) (*movie.Generation, error) {
	if r.gen != nil && r.gen.ID == id {
		return r.gen, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (r *stubGenerationRepo) FindByProviderRequestID(ctx context.Context, providerRequestID string) (*movie.Generation, error) {
	if r.gen != nil && r.gen.ProviderRequestID == providerRequestID {
		return r.gen, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (r *stubGenerationRepo) FindActiveByScene(ctx context.Context, sceneID string) (*movie.Generation, error) {
	return nil, mongo.ErrNoDocuments
}

func (r *stubGenerationRepo) MarkCreditDeducted(ctx context.Context, id string) error { return nil }

func (r *stubGenerationRepo) SetProviderRequestID(ctx context.Context, id, providerRequestID string) error {
	return nil
}

func (r *stubGenerationRepo) MarkCompleted(ctx context.Context, id, videoURL string) (bool, error) {
	if r.gen == nil || r.gen.Status.IsTerminal() {
		return false, nil
	}
	r.gen.Status = movie.GenerationStatusCompleted
	r.gen.VideoURL = videoURL
	r.gen.UpdatedAt = time.Now()
	return true, nil
}

func (r *stubGenerationRepo) MarkFailed(ctx context.Context, id, errorMessage string) (bool, error) {
	if r.gen == nil || r.gen.Status.IsTerminal() {
		return false, nil
	}
	r.gen.Status = movie.GenerationStatusFailed
	r.gen.ErrorMessage = errorMessage
	return true, nil
}

func (r *stubGenerationRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func TestWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newServer := func(repo *stubGenerationRepo) *gin.Engine {
		r := gin.New()
		h := NewWebhookHandler(moviesvc.NewCallbackService(repo))
		r.POST("/webhooks/generation", h.Generation)
		return r
	}

	post := func(r *gin.Engine, payload interface{}) *httptest.ResponseRecorder {
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/generation", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	Convey("生成服务回调接口", t, func() {
		repo := &stubGenerationRepo{gen: &movie.Generation{
			ID:                "gen-1",
			ProviderRequestID: "req-123",
			Status:            movie.GenerationStatusProcessing,
		}}
		server := newServer(repo)

		Convey("完成回调写入终态和视频URL", func() {
			w := post(server, map[string]interface{}{
				"request_id": "req-123",
				"status":     "OK",
				"payload": map[string]interface{}{
					"video": map[string]string{"url": "https://v3.fal.media/out.mp4"},
				},
			})
			So(w.Code, ShouldEqual, http.StatusOK)
			So(repo.gen.Status, ShouldEqual, movie.GenerationStatusCompleted)
			So(repo.gen.VideoURL, ShouldEqual, "https://v3.fal.media/out.mp4")
		})

		Convey("失败回调带上错误原因", func() {
			w := post(server, map[string]interface{}{
				"request_id": "req-123",
				"status":     "ERROR",
				"error":      "nsfw content detected",
			})
			So(w.Code, ShouldEqual, http.StatusOK)
			So(repo.gen.Status, ShouldEqual, movie.GenerationStatusFailed)
			So(repo.gen.ErrorMessage, ShouldEqual, "nsfw content detected")
		})

		Convey("未知任务ID回 200，阻止提供商无限重发", func() {
			w := post(server, map[string]interface{}{
				"request_id": "req-unknown",
				"status":     "OK",
			})
			So(w.Code, ShouldEqual, http.StatusOK)
			So(repo.gen.Status, ShouldEqual, movie.GenerationStatusProcessing)
		})

		Convey("缺少必填字段回 400", func() {
			w := post(server, map[string]interface{}{"status": "OK"})
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
