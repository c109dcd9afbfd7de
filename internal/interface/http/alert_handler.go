package httpapi

import (
	"net/http"

	alertDomain "smartstock-alerts/internal/domain/alert"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleCreateAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, errCodeBadRequest, "invalid body")
		return
	}
	a, err := s.alerts.Create(c.Request.Context(), alertDomain.Definition{
		Email:          req.Email,
		Symbol:         req.Symbol,
		AlertType:      req.AlertType,
		ConditionValue: conditionText(req.ConditionValue),
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"id":      a.ID,
		"alert":   toAlertResponse(a),
	})
}

func (s *Server) handleListAlerts(c *gin.Context) {
	filter := alertDomain.ListFilter{
		ActiveOnly: parseBoolDefault(c.Query("active"), false),
		Symbol:     alertDomain.NormalizeSymbol(c.Query("symbol")),
		Limit:      clampLimit(parseIntDefault(c.Query("limit"), defaultListLimit)),
	}
	alerts, err := s.alerts.List(c.Request.Context(), filter)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	data := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		data = append(data, toAlertResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
		"count":   len(data),
	})
}

func (s *Server) handleGetAlert(c *gin.Context) {
	a, err := s.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"alert":   toAlertResponse(a),
	})
}

// handleCancelAlert 停用警報；已停用或不存在時 changed=false 仍回 200。
func (s *Server) handleCancelAlert(c *gin.Context) {
	id := c.Param("id")
	changed, err := s.alerts.Cancel(c.Request.Context(), id)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      id,
		"changed": changed,
	})
}

func (s *Server) handleAlertOutcomes(c *gin.Context) {
	limit := clampLimit(parseIntDefault(c.Query("limit"), 50))
	outcomes, err := s.alerts.Outcomes(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    toOutcomeResponses(outcomes),
	})
}
