package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vizier-run/vizier/internal/command"
)

// Remote dispatches a command to a container worker over HTTP instead of
// running it in-process. The worker posts its TaskUpdate back to the
// controller's callback endpoint (internal/api) asynchronously rather
// than hold the HTTP connection open for the command's duration.
type Remote struct {
	BaseURL    string
	Routes     map[string]bool // "packageId.commandId" -> this container handles it
	HTTPClient *http.Client
}

// NewRemote returns a Remote backend that accepts exactly the commands
// named in routes (e.g. "pycell.python_cell").
func NewRemote(baseURL string, routes []string, httpClient *http.Client) *Remote {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	routeSet := make(map[string]bool, len(routes))
	for _, r := range routes {
		routeSet[r] = true
	}
	return &Remote{BaseURL: baseURL, Routes: routeSet, HTTPClient: httpClient}
}

func (r *Remote) CanExecute(cmd command.Command) bool {
	return r.Routes[cmd.PackageID+"."+cmd.CommandID]
}

type submitRequest struct {
	TaskID  string              `json:"taskId"`
	Command command.Command     `json:"command"`
	View    command.DatasetView `json:"view"`
}

// Submit posts the task to the container's /tasks endpoint and returns once
// the container has accepted it; the container reports completion later by
// calling back into internal/api's task-state endpoint, so notify is not
// invoked directly by Submit itself. The controller wires notify delivery
// through that callback, not through this method's return.
func (r *Remote) Submit(ctx context.Context, taskID string, cmd command.Command, view command.DatasetView, notify func(TaskUpdate)) error {
	body, err := json.Marshal(submitRequest{TaskID: taskID, Command: cmd, View: view})
	if err != nil {
		return fmt.Errorf("backend: marshal submit request: %w", err)
	}

	slog.Info("dispatching task to remote backend", "taskId", taskID, "command", cmd.PackageID+"."+cmd.CommandID, "url", r.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: submit task %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend: container rejected task %s: %d: %s", taskID, resp.StatusCode, string(respBody))
	}
	return nil
}

func (r *Remote) Cancel(ctx context.Context, taskID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/tasks/%s/cancel", r.BaseURL, taskID), nil)
	if err != nil {
		return fmt.Errorf("backend: build cancel request: %w", err)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: cancel task %s: %w", taskID, err)
	}
	defer resp.Body.Close()
	return nil
}
