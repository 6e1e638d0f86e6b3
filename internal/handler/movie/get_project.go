package movie

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"filmforge/internal/pkg/ctxutil"
	httpresp "filmforge/internal/pkg/http"
	moviesvc "filmforge/internal/service/movie"
)

// GetProjectRequest 获取项目请求
type GetProjectRequest struct {
	ProjectID string `uri:"project_id" binding:"required"` // 项目ID（必填）
}

// GetProject 获取项目详情
// @Summary      获取项目详情
// @Description  根据项目ID获取项目的详细信息（只能访问自己的项目）
// @Tags         项目
// @Accept       json
// @Produce      json
// @Param        project_id  path      string  true  "项目ID"
// @Success      200  {object}  http.SuccessResponse  "成功响应"
// @Failure      401  {object}  http.ErrorResponse    "未授权"
// @Failure      404  {object}  http.ErrorResponse    "项目不存在"
// @Router       /api/v1/projects/{project_id} [get]
func (h *Handler) GetProject(c *gin.Context) {
	var req GetProjectRequest
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

	project, err := h.querySvc.GetProject(ctx, userID, req.ProjectID)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpresp.NewSuccessResponse("success", gin.H{"project": project}))
}

// GetProgress 获取项目进度
// @Summary      获取项目进度
// @Description  查询项目的生成进度，带短TTL缓存，适合前端轮询
// @Tags         项目
// @Accept       json
// @Produce      json
// @Param        project_id  path      string  true  "项目ID"
// @Success      200  {object}  http.SuccessResponse  "成功响应"
// @Failure      401  {object}  http.ErrorResponse    "未授权"
// @Failure      404  {object}  http.ErrorResponse    "项目不存在"
// @Router       /api/v1/projects/{project_id}/progress [get]
func (h *Handler) GetProgress(c *gin.Context) {
	var req GetProjectRequest
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

	progress, err := h.querySvc.GetProgress(ctx, userID, req.ProjectID)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpresp.NewSuccessResponse("success", gin.H{"progress": progress}))
}

// writeQueryError 把查询服务错误映射为HTTP响应
func writeQueryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, moviesvc.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(40401, "project not found"))
	case errors.Is(err, moviesvc.ErrForbidden):
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(40301, "forbidden"))
	default:
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(50001, err.Error()))
	}
}
