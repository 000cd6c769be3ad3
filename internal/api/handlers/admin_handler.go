package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/registry"
	"github.com/yoockh/yoocall/internal/utils"
)

type Outbox interface {
	ListPending(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	PendingCount(ctx context.Context) (int64, error)
	Reconcile(ctx context.Context, limit int) (delivered, failed int, err error)
}

type CallLog interface {
	Recent(ctx context.Context, limit int64) ([]models.CallLog, error)
	Get(ctx context.Context, sessionID string) (*models.CallLog, error)
}

type LiveCalls interface {
	Live() []registry.CallInfo
}

// AdminHandler is the operator surface for parked submissions, live calls and
// the call log.
type AdminHandler struct {
	outbox Outbox
	calls  CallLog
	live   LiveCalls
}

func NewAdminHandler(outbox Outbox, calls CallLog, live LiveCalls) *AdminHandler {
	return &AdminHandler{outbox: outbox, calls: calls, live: live}
}

type outboxItem struct {
	SessionID string `json:"session_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (h *AdminHandler) ListOutbox(c *gin.Context) {
	const op = "AdminHandler.ListOutbox"
	ctx := c.Request.Context()

	rows, err := h.outbox.ListPending(ctx, queryLimit(c, 50, 500))
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to list outbox", err))
		return
	}
	total, err := h.outbox.PendingCount(ctx)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to count outbox", err))
		return
	}

	items := make([]outboxItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, outboxItem{
			SessionID: r.SessionID,
			Attempts:  r.Attempts,
			LastError: r.LastError,
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
			UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"pending": total, "items": items})
}

func (h *AdminHandler) Reconcile(c *gin.Context) {
	const op = "AdminHandler.Reconcile"
	delivered, failed, err := h.outbox.Reconcile(c.Request.Context(), queryLimit(c, 100, 1000))
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "reconcile failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered, "failed": failed})
}

func (h *AdminHandler) ListCalls(c *gin.Context) {
	if h.calls == nil {
		writeError(c, utils.E(utils.CodeUnavailable, "AdminHandler.ListCalls", "call log not configured", nil))
		return
	}
	out, err := h.calls.Recent(c.Request.Context(), int64(queryLimit(c, 50, 500)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (h *AdminHandler) GetCall(c *gin.Context) {
	if h.calls == nil {
		writeError(c, utils.E(utils.CodeUnavailable, "AdminHandler.GetCall", "call log not configured", nil))
		return
	}
	out, err := h.calls.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type liveItem struct {
	SessionID      string `json:"session_id"`
	CallerID       string `json:"caller_id,omitempty"`
	SurveyID       string `json:"survey_id,omitempty"`
	ClientAddress  string `json:"client_address"`
	CreatedAt      string `json:"created_at"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

// ListActive reads the in-process registry, so it answers without Mongo.
func (h *AdminHandler) ListActive(c *gin.Context) {
	now := time.Now()
	calls := h.live.Live()
	items := make([]liveItem, 0, len(calls))
	for _, l := range calls {
		items = append(items, liveItem{
			SessionID:      l.SessionID,
			CallerID:       l.CallerID,
			SurveyID:       l.SurveyID,
			ClientAddress:  l.Remote,
			CreatedAt:      l.StartedAt.Format(time.RFC3339),
			ElapsedSeconds: int64(now.Sub(l.StartedAt).Seconds()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"active": len(items), "items": items})
}
