package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"agentgate/internal/store"
)

// AgentHandler serves job submission and polling.
type AgentHandler struct {
	*Server
}

func (h *AgentHandler) Register(g *echo.Group) {
	g.POST("/run", h.run)
	g.GET("/status/:job_id", h.status)
	g.GET("/plan/:job_id", h.plan)
	g.GET("/steps/:job_id", h.steps)
	g.GET("/result/:job_id", h.result)
	g.GET("/jobs", h.list)
	g.DELETE("/jobs/:job_id", h.delete)
	g.POST("/cancel/:job_id", h.cancel)
}

func (h *AgentHandler) run(c echo.Context) error {
	var req AgentRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	mode := req.ResolveMode()
	if mode == store.JobModeTool {
		if _, ok := h.registry.Get(req.Tool); !ok {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("unknown tool %q", req.Tool))
		}
	}

	ident := identityFrom(c)
	job, err := h.store.CreateJob(c.Request().Context(), ident.TenantID, mode, req.Tool, req.Input, req.Prompt)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.executor.Submit(job)

	return c.JSON(http.StatusAccepted, agentRunResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Mode:      job.Mode,
		CreatedAt: job.CreatedAt,
	})
}

func (h *AgentHandler) loadJob(c echo.Context) (store.Job, error) {
	ident := identityFrom(c)
	job, err := h.store.GetJob(c.Request().Context(), c.Param("job_id"), ident.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Job{}, echo.NewHTTPError(http.StatusNotFound, "Job not found")
	}
	if err != nil {
		return store.Job{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return job, nil
}

func (h *AgentHandler) status(c echo.Context) error {
	job, err := h.loadJob(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse(job))
}

// plan reports which planner produced the job's plan and the planned
// steps. Only agent-mode jobs carry a plan.
func (h *AgentHandler) plan(c echo.Context) error {
	job, err := h.loadJob(c)
	if err != nil {
		return err
	}
	if job.Mode != store.JobModeAgent {
		return echo.NewHTTPError(http.StatusBadRequest, "Plan only available for agent-mode jobs")
	}

	plannerInfo := map[string]interface{}{"mode": "unknown"}
	steps, err := h.store.ListSteps(c.Request().Context(), job.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, s := range steps {
		if s.StepNumber == 0 && s.OutputSummary != "" {
			var meta map[string]interface{}
			if json.Unmarshal([]byte(s.OutputSummary), &meta) == nil {
				plannerInfo = meta
			}
			break
		}
	}

	var plan struct {
		Steps []json.RawMessage `json:"steps"`
	}
	if len(job.PlanJSON) > 0 {
		_ = json.Unmarshal(job.PlanJSON, &plan)
	}
	if plan.Steps == nil {
		plan.Steps = []json.RawMessage{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id":  job.ID,
		"planner": plannerInfo,
		"plan": map[string]interface{}{
			"steps":       plan.Steps,
			"total_steps": len(plan.Steps),
		},
	})
}

func (h *AgentHandler) steps(c echo.Context) error {
	job, err := h.loadJob(c)
	if err != nil {
		return err
	}
	steps, err := h.store.ListSteps(c.Request().Context(), job.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]stepInfo, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepResponse(s))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id":      job.ID,
		"mode":        job.Mode,
		"steps":       out,
		"total_steps": len(out),
	})
}

// result returns the final output with citations. Agent jobs produce a
// synthesized {summary, bullets, citations} document; tool jobs return
// the raw tool output as a string.
func (h *AgentHandler) result(c echo.Context) error {
	job, err := h.loadJob(c)
	if err != nil {
		return err
	}

	resp := map[string]interface{}{
		"job_id":       job.ID,
		"status":       job.Status,
		"mode":         job.Mode,
		"final_output": nil,
		"error":        nil,
		"citations":    []interface{}{},
		"bullets":      []interface{}{},
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}

	if job.Mode == store.JobModeAgent {
		var out struct {
			Summary   string        `json:"summary"`
			Bullets   []interface{} `json:"bullets"`
			Citations []interface{} `json:"citations"`
		}
		if len(job.Output) > 0 && json.Unmarshal(job.Output, &out) == nil {
			resp["final_output"] = out.Summary
			if out.Bullets != nil {
				resp["bullets"] = out.Bullets
			}
			if out.Citations != nil {
				resp["citations"] = out.Citations
			}
		}
		if include, _ := strconv.Atoi(c.QueryParam("include_steps")); include == 1 {
			steps, err := h.store.ListSteps(c.Request().Context(), job.ID)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}
			stepOut := make([]stepInfo, 0, len(steps))
			for _, s := range steps {
				stepOut = append(stepOut, stepResponse(s))
			}
			resp["steps"] = stepOut
		}
	} else if len(job.Output) > 0 {
		resp["final_output"] = string(job.Output)
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *AgentHandler) list(c echo.Context) error {
	ident := identityFrom(c)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	jobs, total, err := h.store.ListJobs(c.Request().Context(), store.JobFilter{
		TenantID: ident.TenantID,
		Status:   c.QueryParam("status"),
		Tool:     c.QueryParam("tool"),
		Mode:     c.QueryParam("mode"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]jobListItem, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobListItem{
			JobID:       j.ID,
			Status:      j.Status,
			Mode:        j.Mode,
			Tool:        j.Tool,
			CreatedAt:   j.CreatedAt,
			StartedAt:   j.StartedAt,
			CompletedAt: j.CompletedAt,
			DurationMS:  j.DurationMS,
			HasOutput:   len(j.Output) > 0,
			HasError:    j.Error != "",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"total":  total,
	})
}

func (h *AgentHandler) delete(c echo.Context) error {
	ident := identityFrom(c)
	err := h.store.DeleteJob(c.Request().Context(), c.Param("job_id"), ident.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Job not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted": true})
}

// cancel stops a queued or running job. Jobs that already finished
// report a conflict with their terminal state.
func (h *AgentHandler) cancel(c echo.Context) error {
	ident := identityFrom(c)
	job, err := h.executor.Cancel(c.Request().Context(), c.Param("job_id"), ident.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Job not found")
	}
	if errors.Is(err, store.ErrConflict) {
		if job.Status == store.JobStatusError && job.Error == "cancelled" {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"job_id":  job.ID,
				"status":  job.Status,
				"message": "job already cancelled",
			})
		}
		return echo.NewHTTPError(http.StatusConflict, "job already finished with status "+job.Status)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "job cancelled",
	})
}
