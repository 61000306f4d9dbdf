package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"agentgate/internal/store"
)

// AdminHandler serves tenant and API key management. Every route sits
// behind the admin key middleware.
type AdminHandler struct {
	*Server
}

func (h *AdminHandler) Register(g *echo.Group) {
	g.POST("/tenants", h.createTenant)
	g.GET("/tenants", h.listTenants)
	g.GET("/tenants/:tenant_id", h.getTenant)
	g.PATCH("/tenants/:tenant_id/quotas", h.updateQuotas)
	g.POST("/tenants/:tenant_id/keys", h.createKey)
	g.GET("/tenants/:tenant_id/keys", h.listKeys)
	g.GET("/tenants/:tenant_id/usage", h.usage)
	g.POST("/keys/:key_id/rotate", h.rotateKey)
	g.POST("/keys/:key_id/revoke", h.revokeKey)
}

type tenantCreateRequest struct {
	Name                  string `json:"name"`
	MaxRequestsPerDay     *int64 `json:"max_requests_per_day"`
	MaxToolCallsPerDay    *int64 `json:"max_tool_calls_per_day"`
	MaxBytesFetchedPerDay *int64 `json:"max_bytes_fetched_per_day"`
}

// Default daily quotas for new tenants.
const (
	defaultMaxRequests  = 500
	defaultMaxToolCalls = 200
	defaultMaxBytes     = 5_000_000
)

func renderTenant(t store.Tenant) map[string]interface{} {
	return map[string]interface{}{
		"id":                        t.ID,
		"name":                      t.Name,
		"max_requests_per_day":      t.MaxRequestsPerDay,
		"max_tool_calls_per_day":    t.MaxToolCallsPerDay,
		"max_bytes_fetched_per_day": t.MaxBytesFetchedPerDay,
		"created_at":                t.CreatedAt,
	}
}

func renderKey(k store.APIKey) map[string]interface{} {
	out := map[string]interface{}{
		"id":         k.ID,
		"tenant_id":  k.TenantID,
		"key_prefix": k.KeyPrefix,
		"label":      k.Label,
		"status":     k.Status,
		"created_at": k.CreatedAt,
	}
	if k.RevokedAt != nil {
		out["revoked_at"] = k.RevokedAt
	}
	if k.LastUsedAt != nil {
		out["last_used_at"] = k.LastUsedAt
	}
	return out
}

func (h *AdminHandler) createTenant(c echo.Context) error {
	var req tenantCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	maxRequests := int64(defaultMaxRequests)
	maxToolCalls := int64(defaultMaxToolCalls)
	maxBytes := int64(defaultMaxBytes)
	if req.MaxRequestsPerDay != nil {
		maxRequests = *req.MaxRequestsPerDay
	}
	if req.MaxToolCallsPerDay != nil {
		maxToolCalls = *req.MaxToolCallsPerDay
	}
	if req.MaxBytesFetchedPerDay != nil {
		maxBytes = *req.MaxBytesFetchedPerDay
	}
	t, err := h.store.CreateTenant(c.Request().Context(), req.Name, maxRequests, maxToolCalls, maxBytes)
	if errors.Is(err, store.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, "Tenant with this name already exists")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, renderTenant(t))
}

func (h *AdminHandler) listTenants(c echo.Context) error {
	tenants, err := h.store.ListTenants(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]interface{}, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, renderTenant(t))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) loadTenant(c echo.Context) (store.Tenant, error) {
	t, err := h.store.GetTenant(c.Request().Context(), c.Param("tenant_id"))
	if errors.Is(err, store.ErrNotFound) {
		return store.Tenant{}, echo.NewHTTPError(http.StatusNotFound, "Tenant not found")
	}
	if err != nil {
		return store.Tenant{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return t, nil
}

func (h *AdminHandler) getTenant(c echo.Context) error {
	t, err := h.loadTenant(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, renderTenant(t))
}

func (h *AdminHandler) updateQuotas(c echo.Context) error {
	t, err := h.loadTenant(c)
	if err != nil {
		return err
	}
	var req tenantCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// Unset fields keep their current values.
	if req.MaxRequestsPerDay != nil {
		t.MaxRequestsPerDay = *req.MaxRequestsPerDay
	}
	if req.MaxToolCallsPerDay != nil {
		t.MaxToolCallsPerDay = *req.MaxToolCallsPerDay
	}
	if req.MaxBytesFetchedPerDay != nil {
		t.MaxBytesFetchedPerDay = *req.MaxBytesFetchedPerDay
	}
	ctx := c.Request().Context()
	if err := h.store.UpdateTenantQuotas(ctx, t.ID, t.MaxRequestsPerDay, t.MaxToolCallsPerDay, t.MaxBytesFetchedPerDay); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Tenant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, renderTenant(t))
}

type keyCreateRequest struct {
	Label string `json:"label"`
}

func (h *AdminHandler) createKey(c echo.Context) error {
	t, err := h.loadTenant(c)
	if err != nil {
		return err
	}
	var req keyCreateRequest
	_ = c.Bind(&req)

	rawKey, keyHash, prefix, err := h.keyring.Generate()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	k, err := h.store.InsertAPIKey(c.Request().Context(), t.ID, keyHash, prefix, req.Label)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := renderKey(k)
	// The raw key appears exactly once, in this response.
	resp["api_key"] = rawKey
	return c.JSON(http.StatusCreated, resp)
}

func (h *AdminHandler) listKeys(c echo.Context) error {
	t, err := h.loadTenant(c)
	if err != nil {
		return err
	}
	keys, err := h.store.ListAPIKeys(c.Request().Context(), t.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		out = append(out, renderKey(k))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) rotateKey(c echo.Context) error {
	ctx := c.Request().Context()
	old, err := h.store.GetAPIKey(ctx, c.Param("key_id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "API key not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	rawKey, keyHash, prefix, err := h.keyring.Generate()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	k, err := h.store.RotateAPIKey(ctx, old.ID, old.TenantID, keyHash, prefix, old.Label)
	if errors.Is(err, store.ErrConflict) {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot rotate a revoked key")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := renderKey(k)
	resp["api_key"] = rawKey
	resp["rotated_from"] = old.ID
	return c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) revokeKey(c echo.Context) error {
	ctx := c.Request().Context()
	k, err := h.store.GetAPIKey(ctx, c.Param("key_id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "API key not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	err = h.store.RevokeAPIKey(ctx, k.ID, k.TenantID)
	if errors.Is(err, store.ErrConflict) {
		return c.JSON(http.StatusOK, map[string]interface{}{"id": k.ID, "status": store.KeyStatusRevoked, "already_revoked": true})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": k.ID, "status": store.KeyStatusRevoked})
}

func (h *AdminHandler) usage(c echo.Context) error {
	t, err := h.loadTenant(c)
	if err != nil {
		return err
	}
	days, _ := strconv.Atoi(c.QueryParam("days"))
	if days < 1 || days > 90 {
		days = 7
	}
	ctx := c.Request().Context()
	since := store.UsageDayKey(time.Now().UTC().AddDate(0, 0, -(days - 1)))
	history, err := h.store.GetUsageHistory(ctx, t.ID, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	records := make([]map[string]interface{}, 0, len(history))
	totals := map[string]int64{"requests_total": 0, "tool_calls_total": 0, "bytes_fetched_total": 0}
	for _, day := range history {
		perTool := map[string]interface{}{}
		tools, err := h.store.GetToolUsage(ctx, t.ID, day.Day)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		for _, tu := range tools {
			perTool[tu.Tool] = map[string]int64{"calls": tu.Calls, "bytes": tu.Bytes}
		}
		records = append(records, map[string]interface{}{
			"day":                 day.Day,
			"requests_total":      day.Requests,
			"tool_calls_total":    day.ToolCalls,
			"bytes_fetched_total": day.BytesFetched,
			"per_tool":            perTool,
		})
		totals["requests_total"] += day.Requests
		totals["tool_calls_total"] += day.ToolCalls
		totals["bytes_fetched_total"] += day.BytesFetched
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tenant_id": t.ID,
		"days":      days,
		"records":   records,
		"totals":    totals,
	})
}
