package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	httpresp "filmforge/internal/pkg/http"
	moviesvc "filmforge/internal/service/movie"
)

// SweepHandler 编排器触发处理器
type SweepHandler struct {
	orchestrator *moviesvc.Orchestrator
}

// NewSweepHandler 创建编排器触发处理器
func NewSweepHandler(orchestrator *moviesvc.Orchestrator) *SweepHandler {
	return &SweepHandler{orchestrator: orchestrator}
}

// Sweep 触发一次编排扫描
// 由外部调度器定时调用；锁被占用时返回 skipped=true，调用方无需重试
// @Summary      触发场景编排扫描
// @Description  执行一次编排器 sweep：抢锁、取一批生成中的项目、逐项目推进场景状态机
// @Tags         编排任务
// @Accept       json
// @Produce      json
// @Success      200  {object}  http.SuccessResponse  "扫描汇总"
// @Failure      401  {object}  http.ErrorResponse    "未授权"
// @Failure      500  {object}  http.ErrorResponse    "服务器内部错误"
// @Router       /api/v1/jobs/scene-sweep [post]
func (h *SweepHandler) Sweep(c *gin.Context) {
	summary, err := h.orchestrator.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(50001, "sweep failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, httpresp.NewSuccessResponse("success", summary))
}
