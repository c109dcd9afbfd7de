package httpapi

import (
	"errors"
	"net/http"

	appAlert "smartstock-alerts/internal/application/alert"
	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errCodeBadRequest     = "BAD_REQUEST"
	errCodeValidation     = "VALIDATION_ERROR"
	errCodeNotFound       = "NOT_FOUND"
	errCodePassInProgress = "PASS_IN_PROGRESS"
	errCodeUnavailable    = "SERVICE_UNAVAILABLE"
	errCodeInternal       = "INTERNAL_ERROR"
)

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Field     string `json:"field,omitempty"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, errorResponse{
		Success:   false,
		Error:     msg,
		ErrorCode: code,
	})
}

// writeDomainError 依錯誤種類對應 HTTP 狀態碼。
func (s *Server) writeDomainError(c *gin.Context, err error) {
	var vErr *alertDomain.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, errorResponse{
			Success:   false,
			Error:     vErr.Error(),
			ErrorCode: errCodeValidation,
			Field:     vErr.Field,
		})
	case errors.Is(err, alertDomain.ErrNotFound):
		writeError(c, http.StatusNotFound, errCodeNotFound, err.Error())
	case errors.Is(err, appAlert.ErrPassInProgress):
		writeError(c, http.StatusConflict, errCodePassInProgress, err.Error())
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		writeError(c, http.StatusInternalServerError, errCodeInternal, "internal error")
	}
}
