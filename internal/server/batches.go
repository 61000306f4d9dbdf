package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"agentgate/internal/batch"
	"agentgate/internal/store"
)

// BatchesHandler serves the approval gate: proposed action batches,
// their review transitions, and the audit trail.
type BatchesHandler struct {
	*Server
}

func (h *BatchesHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:batch_id", h.get)
	g.DELETE("/:batch_id", h.delete)
	g.POST("/:batch_id/submit", h.submit)
	g.POST("/:batch_id/approve", h.approve)
	g.POST("/:batch_id/reject", h.reject)
	g.POST("/:batch_id/run", h.run)
	g.GET("/audit-logs", h.auditLogs)
}

func (h *BatchesHandler) create(c echo.Context) error {
	var req BatchCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	for _, a := range req.Actions {
		if !batch.ValidKind(a.Kind) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("unknown action kind %q", a.Kind))
		}
	}

	ctx := c.Request().Context()
	ident := identityFrom(c)
	b, err := h.store.CreateBatch(ctx, ident.TenantID, req.Title, req.Description, req.CreatedBy)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, a := range req.Actions {
		if _, err := h.store.AddAction(ctx, b.ID, a.Kind, a.Risk, a.Payload, a.PreviewText); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if req.AutoSubmit {
		if err := h.store.SubmitBatch(ctx, b.ID, b.CreatedBy); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return h.respondBatch(c, http.StatusCreated, b.ID)
}

func (h *BatchesHandler) respondBatch(c echo.Context, code int, batchID string) error {
	ctx := c.Request().Context()
	ident := identityFrom(c)
	b, err := h.store.GetBatch(ctx, batchID, ident.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Batch not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	audit, err := h.store.ListAudit(ctx, batchID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(code, renderBatch(b, audit))
}

func (h *BatchesHandler) get(c echo.Context) error {
	return h.respondBatch(c, http.StatusOK, c.Param("batch_id"))
}

func (h *BatchesHandler) list(c echo.Context) error {
	ident := identityFrom(c)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	batches, err := h.store.ListBatches(c.Request().Context(), store.BatchFilter{
		TenantID: ident.TenantID,
		Status:   c.QueryParam("status"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		items = append(items, renderBatch(b, nil))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"batches": items,
		"total":   len(items),
	})
}

func (h *BatchesHandler) delete(c echo.Context) error {
	ident := identityFrom(c)
	batchID := c.Param("batch_id")
	err := h.store.DeleteBatch(c.Request().Context(), batchID, ident.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Batch not found")
	}
	if errors.Is(err, store.ErrConflict) {
		return h.statusError(c, http.StatusBadRequest, batchID, "delete", "draft or rejected")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Batch deleted", "id": batchID})
}

func (h *BatchesHandler) submit(c echo.Context) error {
	return h.transition(c, "submit", "draft", http.StatusBadRequest, func(ctx echo.Context, id string) error {
		return h.store.SubmitBatch(ctx.Request().Context(), id, "admin")
	})
}

func (h *BatchesHandler) approve(c echo.Context) error {
	return h.transition(c, "approve", "pending", http.StatusBadRequest, func(ctx echo.Context, id string) error {
		return h.store.ApproveBatch(ctx.Request().Context(), id, "admin")
	})
}

func (h *BatchesHandler) reject(c echo.Context) error {
	var req BatchRejectRequest
	_ = c.Bind(&req)
	if len(req.Reason) > 500 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "reason exceeds maximum length")
	}
	return h.transition(c, "reject", "pending", http.StatusBadRequest, func(ctx echo.Context, id string) error {
		return h.store.RejectBatch(ctx.Request().Context(), id, "admin", req.Reason)
	})
}

// run is the approval gate itself: only an approved batch starts
// executing, and the refusal names the batch's current status.
func (h *BatchesHandler) run(c echo.Context) error {
	return h.transition(c, "run", "approved", http.StatusForbidden, func(ctx echo.Context, id string) error {
		if err := h.store.MarkBatchExecuting(ctx.Request().Context(), id, "admin"); err != nil {
			return err
		}
		h.runner.RunAsync(id)
		return nil
	})
}

func (h *BatchesHandler) transition(c echo.Context, verb, wantStatus string, conflictCode int, fn func(echo.Context, string) error) error {
	ident := identityFrom(c)
	batchID := c.Param("batch_id")
	// Tenant scoping first so cross-tenant ids stay invisible.
	if _, err := h.store.GetBatch(c.Request().Context(), batchID, ident.TenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Batch not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	err := fn(c, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Batch not found")
	}
	if errors.Is(err, store.ErrConflict) {
		return h.statusError(c, conflictCode, batchID, verb, wantStatus)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.respondBatch(c, http.StatusOK, batchID)
}

func (h *BatchesHandler) statusError(c echo.Context, code int, batchID, verb, wantStatus string) error {
	ident := identityFrom(c)
	current := "unknown"
	if b, err := h.store.GetBatch(c.Request().Context(), batchID, ident.TenantID); err == nil {
		current = b.Status
	}
	return echo.NewHTTPError(code, fmt.Sprintf("Cannot %s batch in '%s' status. Must be '%s'.", verb, current, wantStatus))
}

func (h *BatchesHandler) auditLogs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	events, err := h.store.ListAuditLogs(c.Request().Context(), store.AuditFilter{
		BatchID:   c.QueryParam("batch_id"),
		EventType: c.QueryParam("event_type"),
		Limit:     limit,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		entry := map[string]interface{}{
			"id":         ev.ID,
			"ts":         ev.TS,
			"actor":      ev.Actor,
			"event_type": ev.EventType,
			"batch_id":   ev.BatchID,
			"message":    ev.Message,
		}
		if ev.ActionID != "" {
			entry["action_id"] = ev.ActionID
		}
		if len(ev.Data) > 0 {
			entry["data"] = ev.Data
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"audit_logs": out,
		"total":      len(out),
	})
}
