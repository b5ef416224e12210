package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// StatusOf 错误分类对应的HTTP状态码
func StatusOf(err error) int {
	var disabled *engine.FeatureDisabledError
	if errors.As(err, &disabled) {
		return http.StatusForbidden
	}
	switch types.KindOf(err) {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindUnsupportedPlatform, types.KindPlatformRejected:
		return http.StatusUnprocessableEntity
	case types.KindAuthExpired:
		return http.StatusUnauthorized
	case types.KindPlatformTransient, types.KindAgentUnhealthy:
		return http.StatusServiceUnavailable
	case types.KindTaskCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError 按错误分类输出响应，内部错误不暴露细节
func writeError(c *gin.Context, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "Internal Server Error"
	}
	c.JSON(status, dto.NewErrorResponse(status, msg))
}

// badRequest 请求参数错误
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse(http.StatusBadRequest, msg))
}
