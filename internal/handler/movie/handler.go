package movie

import (
	moviesvc "filmforge/internal/service/movie"
)

// Handler 项目只读接口处理器
type Handler struct {
	querySvc *moviesvc.QueryService
}

// NewHandler 创建项目接口处理器
func NewHandler(querySvc *moviesvc.QueryService) *Handler {
	return &Handler{querySvc: querySvc}
}
