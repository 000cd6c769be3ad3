package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yoocall/internal/utils"
)

// CallHandler hands telephony channel upgrades to the channel gateway.
type CallHandler struct {
	gw http.Handler
}

func NewCallHandler(gw http.Handler) *CallHandler {
	return &CallHandler{gw: gw}
}

func (h *CallHandler) Call(c *gin.Context) {
	if !c.IsWebsocket() {
		c.JSON(http.StatusBadRequest, APIError{Code: utils.CodeInvalidArgument, Message: "websocket upgrade required"})
		return
	}
	h.gw.ServeHTTP(c.Writer, c.Request)
}
