package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	httpresp "filmforge/internal/pkg/http"
)

// Recovery 异常恢复中间件
// 编排器内部另有每项目的 panic 隔离，这里兜 HTTP 层
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("path", c.Request.URL.Path).
					Str("method", c.Request.Method).
					Str("request_id", c.GetString("request_id")).
					Msg("panic recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError,
					httpresp.NewErrorResponse(50000, "internal server error"))
			}
		}()
		c.Next()
	}
}
