package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	httpresp "filmforge/internal/pkg/http"
	moviesvc "filmforge/internal/service/movie"
)

// WebhookHandler 生成服务回调处理器
type WebhookHandler struct {
	callbackSvc *moviesvc.CallbackService
}

// NewWebhookHandler 创建回调处理器
func NewWebhookHandler(callbackSvc *moviesvc.CallbackService) *WebhookHandler {
	return &WebhookHandler{callbackSvc: callbackSvc}
}

// GenerationWebhookRequest 生成完成回调请求
type GenerationWebhookRequest struct {
	RequestID string `json:"request_id" binding:"required"` // 提供商任务ID
	Status    string `json:"status" binding:"required"`     // OK / ERROR
	Error     string `json:"error"`                         // 失败原因
	Payload   struct {
		Video struct {
			URL string `json:"url"`
		} `json:"video"`
	} `json:"payload"`
}

// Generation 处理生成任务完成回调
// 回调只落任务终态，场景推进交给下一轮 sweep
// @Summary      生成任务回调
// @Description  接收视频生成提供商的完成/失败通知
// @Tags         回调
// @Accept       json
// @Produce      json
// @Param        request  body      GenerationWebhookRequest  true  "回调内容"
// @Success      200      {object}  http.SuccessResponse      "已受理"
// @Failure      400      {object}  http.ErrorResponse        "请求格式错误"
// @Failure      401      {object}  http.ErrorResponse        "未授权"
// @Router       /api/v1/webhooks/generation [post]
func (h *WebhookHandler) Generation(c *gin.Context) {
	var req GenerationWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(40001, "invalid webhook payload", err.Error()))
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.Status == "OK" {
		err = h.callbackSvc.HandleCompleted(ctx, req.RequestID, req.Payload.Video.URL)
	} else {
		err = h.callbackSvc.HandleFailed(ctx, req.RequestID, req.Error)
	}

	if err != nil {
		if errors.Is(err, moviesvc.ErrUnknownGeneration) {
			// 查不到的任务多半是历史遗留或测试流量，回 200 防止提供商无限重发
			log.Warn().Str("request_id", req.RequestID).Msg("回调任务ID未知，已忽略")
			c.JSON(http.StatusOK, httpresp.NewSuccessResponse("ignored", nil))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(50001, "webhook processing failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, httpresp.NewSuccessResponse("success", nil))
}
