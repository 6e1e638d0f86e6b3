package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSharedSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(secret string) *gin.Engine {
		r := gin.New()
		r.POST("/protected", SharedSecret(secret), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"code": 0})
		})
		return r
	}

	doRequest := func(r *gin.Engine, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/protected", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	Convey("共享密钥中间件", t, func() {
		Convey("密钥正确时放行", func() {
			w := doRequest(newRouter("s3cret"), "Bearer s3cret")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("密钥错误或缺失时拒绝", func() {
			r := newRouter("s3cret")
			So(doRequest(r, "Bearer wrong").Code, ShouldEqual, http.StatusUnauthorized)
			So(doRequest(r, "s3cret").Code, ShouldEqual, http.StatusUnauthorized)
			So(doRequest(r, "").Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("未配置密钥的端点直接 503，不做比较", func() {
			w := doRequest(newRouter(""), "Bearer anything")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}
