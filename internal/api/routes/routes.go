package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yoocall/internal/api/handlers"
	"github.com/yoockh/yoocall/internal/api/middleware"
)

type Deps struct {
	Call     *handlers.CallHandler
	Health   *handlers.HealthHandler
	Admin    *handlers.AdminHandler
	Metrics  http.Handler
	AdminJWT middleware.JWTConfig
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", d.Health.Ping)
	r.GET("/healthz", d.Health.Healthz)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// Telephony channel; authenticated in-band by the first message
	r.GET("/ws/call", d.Call.Call)

	// support operators read; only admins trigger reconciliation
	admin := r.Group("/admin")
	admin.Use(middleware.JWTAuth(d.AdminJWT))
	read := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleSupport)

	admin.GET("/outbox", read, d.Admin.ListOutbox)
	admin.POST("/outbox/reconcile", middleware.RequireAdmin(), d.Admin.Reconcile)
	admin.GET("/sessions/active", read, d.Admin.ListActive)
	admin.GET("/calls", read, d.Admin.ListCalls)
	admin.GET("/calls/:session_id", read, d.Admin.GetCall)
}
