package movie

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"filmforge/internal/pkg/ctxutil"
	httpresp "filmforge/internal/pkg/http"
)

// ListScenesRequest 获取场景列表请求
type ListScenesRequest struct {
	ProjectID string `uri:"project_id" binding:"required"` // 项目ID（必填）
}

// ListScenes 获取项目场景列表
// @Summary      获取项目场景列表
// @Description  按场景编号顺序返回项目的全部场景及其状态
// @Tags         项目
// @Accept       json
// @Produce      json
// @Param        project_id  path      string  true  "项目ID"
// @Success      200  {object}  http.SuccessResponse  "成功响应"
// @Failure      401  {object}  http.ErrorResponse    "未授权"
// @Failure      404  {object}  http.ErrorResponse    "项目不存在"
// @Router       /api/v1/projects/{project_id}/scenes [get]
func (h *Handler) ListScenes(c *gin.Context) {
	var req ListScenesRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(40001, "Invalid project_id", err.Error()))
		return
	}

	ctx := c.Request.Context()
	userID, ok := ctxutil.UserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(40101, "未授权"))
		return
	}

	scenes, err := h.querySvc.ListScenes(ctx, userID, req.ProjectID)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpresp.NewSuccessResponse("success", gin.H{
		"scenes": scenes,
		"total":  len(scenes),
	}))
}

// ListProjects 获取项目列表
// @Summary      获取项目列表
// @Description  返回当前用户的项目列表（最新优先）
// @Tags         项目
// @Accept       json
// @Produce      json
// @Param        limit  query     int  false  "返回数量上限（默认20，最大100）"
// @Success      200  {object}  http.SuccessResponse  "成功响应"
// @Failure      401  {object}  http.ErrorResponse    "未授权"
// @Router       /api/v1/projects [get]
func (h *Handler) ListProjects(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := ctxutil.UserID(ctx)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(40101, "未授权"))
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)

	projects, err := h.querySvc.ListProjects(ctx, userID, limit)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpresp.NewSuccessResponse("success", gin.H{
		"projects": projects,
		"total":    len(projects),
	}))
}
