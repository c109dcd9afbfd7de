package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleDeleteAllAlerts 清除全部資料，需帶 confirm=true。
func (s *Server) handleDeleteAllAlerts(c *gin.Context) {
	if !parseBoolDefault(c.Query("confirm"), false) {
		writeError(c, http.StatusBadRequest, errCodeBadRequest, "confirm=true required")
		return
	}
	n, err := s.alerts.DeleteAll(c.Request.Context())
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"deleted": n,
	})
}

func (s *Server) handleRunPass(c *gin.Context) {
	if s.scheduler == nil {
		writeError(c, http.StatusServiceUnavailable, errCodeUnavailable, "scheduler not configured")
		return
	}
	report, err := s.scheduler.TriggerNow(c.Request.Context())
	if err != nil && report.PassID == "" {
		s.writeDomainError(c, err)
		return
	}
	if err != nil {
		// 整輪失敗仍回傳報告，讓呼叫端看到狀態。
		s.logger.Warn("manual pass failed", zap.String("pass_id", report.PassID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":    false,
			"error":      err.Error(),
			"error_code": errCodeInternal,
			"data":       toPassResponse(report, true),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toPassResponse(report, true),
	})
}

func (s *Server) handleListPasses(c *gin.Context) {
	if s.scheduler == nil {
		writeError(c, http.StatusServiceUnavailable, errCodeUnavailable, "scheduler not configured")
		return
	}
	history := s.scheduler.History()
	data := make([]passResponse, 0, len(history))
	for _, r := range history {
		data = append(data, toPassResponse(r, false))
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	if s.scheduler == nil {
		writeError(c, http.StatusServiceUnavailable, errCodeUnavailable, "scheduler not configured")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    s.scheduler.Status(),
	})
}

func (s *Server) handlePurgeCache(c *gin.Context) {
	purged := 0
	if s.cache != nil {
		purged = s.cache.Purge()
	}
	s.logger.Info("snapshot cache purged", zap.Int("entries", purged))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"purged":  purged,
	})
}
