package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"agentgate/internal/store"
)

// Action kinds.
const (
	KindNote        = "note"
	KindShell       = "shell"
	KindFileWrite   = "file_write"
	KindFilePatch   = "file_patch"
	KindHTTPRequest = "http_request"
	KindGit         = "git"
)

// ValidKind reports whether a kind is executable.
func ValidKind(kind string) bool {
	switch kind {
	case KindNote, KindShell, KindFileWrite, KindFilePatch, KindHTTPRequest, KindGit:
		return true
	}
	return false
}

type actionPayload struct {
	// note
	Note string `json:"note,omitempty"`
	// shell / git
	Command    string `json:"command,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
	GitCommand string `json:"git_command,omitempty"`
	RepoPath   string `json:"repo_path,omitempty"`
	// file_write / file_patch
	Path     string `json:"path,omitempty"`
	Content  string `json:"content,omitempty"`
	Modified string `json:"modified,omitempty"`
	// http_request
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// executeAction runs one action and returns a short output summary.
// Every kind runs under the per-action timeout.
func (r *Runner) executeAction(ctx context.Context, a store.Action) (string, error) {
	timeout := r.cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var payload actionPayload
	if len(a.Payload) > 0 {
		if err := json.Unmarshal(a.Payload, &payload); err != nil {
			return "", fmt.Errorf("invalid payload: %w", err)
		}
	}

	switch a.Kind {
	case KindNote:
		note := payload.Note
		if note == "" {
			note = a.PreviewText
		}
		return "Note recorded: " + note, nil

	case KindShell:
		if payload.Command == "" {
			return "", errors.New("no command specified")
		}
		return r.runCommand(ctx, payload.Command, payload.Cwd)

	case KindGit:
		if payload.GitCommand == "" {
			return "", errors.New("no git command specified")
		}
		repo := payload.RepoPath
		if repo == "" {
			repo = "."
		}
		return r.runCommand(ctx, "git "+payload.GitCommand, repo)

	case KindFileWrite:
		if payload.Path == "" {
			return "", errors.New("no file path specified")
		}
		abs, err := filepath.Abs(payload.Path)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(abs, []byte(payload.Content), 0o644); err != nil {
			return "", err
		}
		return fmt.Sprintf("Wrote %d bytes to %s", len(payload.Content), payload.Path), nil

	case KindFilePatch:
		if payload.Path == "" {
			return "", errors.New("no file path specified")
		}
		if err := os.WriteFile(payload.Path, []byte(payload.Modified), 0o644); err != nil {
			return "", err
		}
		return "Patched " + payload.Path, nil

	case KindHTTPRequest:
		return r.runHTTPRequest(ctx, payload)

	default:
		return "", fmt.Errorf("unknown action kind: %s", a.Kind)
	}
}

func (r *Runner) runCommand(ctx context.Context, command, cwd string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := clip(stdout.String(), 500)
	if ctx.Err() == context.DeadlineExceeded {
		return out, errors.New("command timed out")
	}
	if err != nil {
		errMsg := clip(strings.TrimSpace(stderr.String()), 500)
		if errMsg == "" {
			errMsg = err.Error()
		}
		return out, errors.New(errMsg)
	}
	if out == "" {
		out = "Command completed successfully"
	}
	return out, nil
}

func (r *Runner) runHTTPRequest(ctx context.Context, payload actionPayload) (string, error) {
	if payload.URL == "" {
		return "", errors.New("no URL specified")
	}
	method := payload.Method
	if method == "" {
		method = "GET"
	}
	var body io.Reader
	if payload.Body != "" {
		body = strings.NewReader(payload.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, payload.URL, body)
	if err != nil {
		return "", err
	}
	for k, v := range payload.Headers {
		req.Header.Set(k, v)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	out := fmt.Sprintf("%s %s -> %d", method, payload.URL, resp.StatusCode)
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return out, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
	}
	return out, nil
}
