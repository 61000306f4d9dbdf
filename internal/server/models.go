package server

import (
	"encoding/json"
	"errors"
	"time"

	"agentgate/internal/store"
)

const (
	maxPromptLength = 4096
	maxTitleLength  = 200
	maxBatchActions = 50
)

// AgentRunRequest is the unified job submission body. A bare
// {tool, input} runs one tool; mode "agent" (or a prompt) plans and
// runs a multi-step job.
type AgentRunRequest struct {
	Mode         string          `json:"mode"`
	Tool         string          `json:"tool"`
	Input        json.RawMessage `json:"input"`
	Prompt       string          `json:"prompt"`
	MaxSteps     int             `json:"max_steps"`
	AllowedTools []string        `json:"allowed_tools"`
}

// ResolveMode picks the job mode from the request shape.
func (r *AgentRunRequest) ResolveMode() string {
	if r.Mode == store.JobModeAgent || (r.Mode == "" && r.Prompt != "") {
		return store.JobModeAgent
	}
	return store.JobModeTool
}

// Validate checks the request against its resolved mode.
func (r *AgentRunRequest) Validate() error {
	switch r.ResolveMode() {
	case store.JobModeAgent:
		if r.Prompt == "" {
			return errors.New("prompt is required for agent mode")
		}
		if len(r.Prompt) > maxPromptLength {
			return errors.New("prompt exceeds maximum length")
		}
		if r.Tool != "" {
			return errors.New("tool cannot be combined with agent mode")
		}
	default:
		if r.Tool == "" {
			return errors.New("tool is required")
		}
		if r.Prompt != "" {
			return errors.New("prompt is only valid in agent mode")
		}
	}
	return nil
}

type agentRunResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

type agentStatusResponse struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	Mode        string          `json:"mode"`
	Tool        string          `json:"tool,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMS  *int64          `json:"duration_ms,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StepCount   *int            `json:"step_count,omitempty"`
}

func statusResponse(job store.Job) agentStatusResponse {
	resp := agentStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Mode:        job.Mode,
		Tool:        job.Tool,
		Prompt:      job.Prompt,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		DurationMS:  job.DurationMS,
	}
	if job.Status == store.JobStatusDone {
		resp.Output = job.Output
	}
	if job.Status == store.JobStatusError {
		resp.Error = job.Error
	}
	if job.Mode == store.JobModeAgent {
		n := job.StepCount
		resp.StepCount = &n
	}
	return resp
}

type stepInfo struct {
	StepID        string     `json:"step_id"`
	StepNumber    int        `json:"step_number"`
	Tool          string     `json:"tool"`
	Status        string     `json:"status"`
	OutputSummary string     `json:"output_summary,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMS    *int64     `json:"duration_ms,omitempty"`
}

func stepResponse(s store.JobStep) stepInfo {
	return stepInfo{
		StepID:        s.ID,
		StepNumber:    s.StepNumber,
		Tool:          s.Tool,
		Status:        s.Status,
		OutputSummary: s.OutputSummary,
		Error:         s.Error,
		CreatedAt:     s.CreatedAt,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		DurationMS:    s.DurationMS,
	}
}

type jobListItem struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Mode        string     `json:"mode"`
	Tool        string     `json:"tool,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
	HasOutput   bool       `json:"has_output"`
	HasError    bool       `json:"has_error"`
}

// BatchActionRequest is one proposed action inside a batch create
// request.
type BatchActionRequest struct {
	Kind        string          `json:"kind"`
	Risk        string          `json:"risk"`
	Payload     json.RawMessage `json:"payload"`
	PreviewText string          `json:"preview_text"`
}

type BatchCreateRequest struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Actions     []BatchActionRequest `json:"actions"`
	CreatedBy   string               `json:"created_by"`
	AutoSubmit  bool                 `json:"auto_submit"`
}

func (r *BatchCreateRequest) Validate() error {
	if r.Title == "" || len(r.Title) > maxTitleLength {
		return errors.New("title must be 1-200 characters")
	}
	if len(r.Actions) == 0 {
		return errors.New("at least one action is required")
	}
	if len(r.Actions) > maxBatchActions {
		return errors.New("too many actions in batch")
	}
	for _, a := range r.Actions {
		if a.PreviewText == "" || len(a.PreviewText) > 500 {
			return errors.New("preview_text must be 1-500 characters")
		}
		if a.Kind == "" {
			return errors.New("action kind is required")
		}
	}
	return nil
}

type BatchRejectRequest struct {
	Reason string `json:"reason"`
}

type actionResponse struct {
	ID            string          `json:"id"`
	Seq           int             `json:"seq"`
	Kind          string          `json:"kind"`
	Risk          string          `json:"risk"`
	Payload       json.RawMessage `json:"payload"`
	PreviewText   string          `json:"preview_text"`
	Status        string          `json:"status"`
	OutputSummary string          `json:"output_summary,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type auditEntryResponse struct {
	ID        int64           `json:"id"`
	TS        time.Time       `json:"ts"`
	Actor     string          `json:"actor"`
	EventType string          `json:"event_type"`
	ActionID  string          `json:"action_id,omitempty"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type batchResponse struct {
	ID               string               `json:"id"`
	Title            string               `json:"title"`
	Description      string               `json:"description,omitempty"`
	CreatedBy        string               `json:"created_by"`
	Status           string               `json:"status"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	ApprovedAt       *time.Time           `json:"approved_at,omitempty"`
	ApprovedBy       string               `json:"approved_by,omitempty"`
	ExecutedAt       *time.Time           `json:"executed_at,omitempty"`
	ExecutionSummary json.RawMessage      `json:"execution_summary,omitempty"`
	Actions          []actionResponse     `json:"actions"`
	AuditLogs        []auditEntryResponse `json:"audit_logs,omitempty"`
	ActionCount      int                  `json:"action_count"`
	RiskSummary      map[string]int       `json:"risk_summary,omitempty"`
}

func renderBatch(b store.Batch, audit []store.AuditEvent) batchResponse {
	resp := batchResponse{
		ID:               b.ID,
		Title:            b.Title,
		Description:      b.Description,
		CreatedBy:        b.CreatedBy,
		Status:           b.Status,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
		ApprovedAt:       b.ApprovedAt,
		ApprovedBy:       b.ApprovedBy,
		ExecutedAt:       b.ExecutedAt,
		ExecutionSummary: b.ExecutionSummary,
		Actions:          []actionResponse{},
		ActionCount:      len(b.Actions),
		RiskSummary:      b.RiskSummary,
	}
	for _, a := range b.Actions {
		resp.Actions = append(resp.Actions, actionResponse{
			ID:            a.ID,
			Seq:           a.Seq,
			Kind:          a.Kind,
			Risk:          a.Risk,
			Payload:       a.Payload,
			PreviewText:   a.PreviewText,
			Status:        a.Status,
			OutputSummary: a.OutputSummary,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt,
			StartedAt:     a.StartedAt,
			CompletedAt:   a.CompletedAt,
		})
	}
	for _, ev := range audit {
		resp.AuditLogs = append(resp.AuditLogs, auditEntryResponse{
			ID:        ev.ID,
			TS:        ev.TS,
			Actor:     ev.Actor,
			EventType: ev.EventType,
			ActionID:  ev.ActionID,
			Message:   ev.Message,
			Data:      ev.Data,
		})
	}
	return resp
}

func usageResponse(day store.UsageDay, tools []store.ToolUsage, tracked bool) map[string]interface{} {
	byTool := map[string]interface{}{}
	for _, t := range tools {
		byTool[t.Tool] = map[string]int64{"calls": t.Calls, "bytes": t.Bytes}
	}
	return map[string]interface{}{
		"tenant_id":           day.TenantID,
		"day":                 day.Day,
		"tracked":             tracked,
		"requests_total":      day.Requests,
		"tool_calls_total":    day.ToolCalls,
		"bytes_fetched_total": day.BytesFetched,
		"tools":               byTool,
	}
}
