package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/api/dto"
)

// Recovery 捕获handler panic，记录堆栈后统一返回500响应体
func Recovery(log *logrus.Entry) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"panic":  recovered,
		}).Errorf("❌ 请求处理panic\n%s", debug.Stack())
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			dto.NewErrorResponse(http.StatusInternalServerError, "Internal Server Error"))
	})
}
