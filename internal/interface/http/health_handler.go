package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "pong",
		"timestamp": time.Now().Unix(),
		"status":    "alive",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	storeStatus := "ok"
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			storeStatus = "error: " + err.Error()
		}
	}
	if s.storeKind == "memory" {
		storeStatus = "using_memory"
	}

	body := gin.H{
		"success":   true,
		"health":    "ok",
		"store":     s.storeKind,
		"db":        storeStatus,
		"provider":  s.provider,
		"notifiers": s.notifiers,
		"time":      time.Now().Format(time.RFC3339),
	}
	if s.scheduler != nil {
		body["scheduler"] = s.scheduler.Status()
	}
	c.JSON(http.StatusOK, body)
}
