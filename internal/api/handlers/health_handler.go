package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Capacity interface {
	Active() int
	Capacity() int
}

type PendingCounter interface {
	PendingCount(ctx context.Context) (int64, error)
}

type HealthHandler struct {
	capacity Capacity
	outbox   PendingCounter
	started  time.Time
}

func NewHealthHandler(capacity Capacity, outbox PendingCounter) *HealthHandler {
	return &HealthHandler{capacity: capacity, outbox: outbox, started: time.Now()}
}

func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	body := gin.H{
		"status":          "ok",
		"active_sessions": h.capacity.Active(),
		"capacity":        h.capacity.Capacity(),
		"uptime_seconds":  int64(time.Since(h.started).Seconds()),
	}

	if h.outbox != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		n, err := h.outbox.PendingCount(ctx)
		if err != nil {
			body["status"] = "degraded"
			body["outbox_error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["pending_submissions"] = n
	}
	c.JSON(http.StatusOK, body)
}
