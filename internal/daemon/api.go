// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"github.com/tombee/atelier/internal/engine"
	"github.com/tombee/atelier/internal/log"
	"github.com/tombee/atelier/internal/sandbox"
	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/errors"
)

// startRunRequest is the POST /projects/{id}/runs body.
type startRunRequest struct {
	PackID        string  `json:"packId"`
	TargetID      string  `json:"targetId,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty"`
}

// runResponse describes a run over the trigger API.
type runResponse struct {
	RunID     string `json:"runId"`
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`

	StopReason    string  `json:"stopReason,omitempty"`
	Message       string  `json:"message,omitempty"`
	Iterations    int     `json:"iterations,omitempty"`
	BestIteration int     `json:"bestIteration,omitempty"`
	BestScore     float64 `json:"bestScore,omitempty"`
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /version", d.handleVersion)
	mux.Handle("GET /metrics", d.telemetry.MetricsHandler())
	mux.HandleFunc("POST /projects/{projectID}/runs", d.handleStartRun)
	mux.HandleFunc("DELETE /projects/{projectID}/runs", d.handleStopRun)
	mux.HandleFunc("GET /projects/{projectID}/runs", d.handleProjectRun)
	mux.HandleFunc("GET /runs/{runID}", d.handleGetRun)
	mux.HandleFunc("POST /projects/{projectID}/previews/{iteration}", d.handleStartPreview)
	mux.HandleFunc("GET /projects/{projectID}/previews/{iteration}", d.handlePreviewStatus)
	mux.HandleFunc("DELETE /projects/{projectID}/previews/{iteration}", d.handleStopPreview)
	mux.Handle("GET /ws", d.rpcServer)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Daemon) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":   d.opts.Version,
		"commit":    d.opts.Commit,
		"buildDate": d.opts.BuildDate,
	})
}

// handleStartRun loads the named design pack and schedules a run. The
// run is bound to the daemon's lifetime, not to this request.
func (d *Daemon) handleStartRun(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.PackID == "" {
		writeError(w, http.StatusBadRequest, "packId is required")
		return
	}

	packDir := d.paths.PackDir(projectID, req.PackID)
	if _, err := os.Stat(packDir); os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "design pack not found: "+req.PackID)
		return
	}
	pack, err := design.LoadPack(packDir)
	if err != nil {
		d.logger.Warn("pack load failed", "pack_id", req.PackID, log.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	workspaceDir := d.paths.WorkspaceDir(projectID)
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "creating workspace: "+err.Error())
		return
	}

	run, err := d.engine.StartRun(d.runCtx, engine.RunParams{
		ProjectID:     projectID,
		WorkspaceDir:  workspaceDir,
		Pack:          pack,
		TargetID:      req.TargetID,
		Threshold:     req.Threshold,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	d.trackRun(run)

	writeJSON(w, http.StatusAccepted, runResponse{
		RunID:     run.ID,
		ProjectID: projectID,
		Status:    "running",
	})
}

func (d *Daemon) handleStopRun(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	run := d.engine.Active(projectID)
	if run == nil {
		writeError(w, http.StatusNotFound, "no active run for project "+projectID)
		return
	}
	run.Stop()
	writeJSON(w, http.StatusAccepted, runResponse{
		RunID:     run.ID,
		ProjectID: projectID,
		Status:    "stopping",
	})
}

func (d *Daemon) handleProjectRun(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	run := d.engine.Active(projectID)
	if run == nil {
		writeError(w, http.StatusNotFound, "no active run for project "+projectID)
		return
	}
	writeJSON(w, http.StatusOK, describeRun(run))
}

func (d *Daemon) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := d.lookupRun(r.PathValue("runID"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run "+r.PathValue("runID"))
		return
	}
	writeJSON(w, http.StatusOK, describeRun(run))
}

// previewResponse describes a historical preview over the trigger API.
type previewResponse struct {
	ProjectID  string         `json:"projectId"`
	Iteration  int            `json:"iteration"`
	Status     sandbox.Status `json:"status"`
	PreviewURL string         `json:"previewUrl,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func previewIteration(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("iteration"))
	return n, err == nil && n >= 0
}

// handleStartPreview extracts the iteration's snapshot and serves it
// from a historical preview. Extraction is idempotent and a live
// preview for the iteration is reused, so repeated POSTs are safe.
func (d *Daemon) handleStartPreview(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	iteration, ok := previewIteration(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "iteration must be a non-negative integer")
		return
	}

	runtimeDir, err := d.snapshots.Extract(r.Context(), projectID, iteration)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	// Bound to the daemon's lifetime like runs: the preview keeps
	// booting after this response is written.
	info, err := d.sandboxes.StartHistorical(d.runCtx, projectID, iteration, runtimeDir)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, describePreview(projectID, iteration, info))
}

func (d *Daemon) handlePreviewStatus(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	iteration, ok := previewIteration(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "iteration must be a non-negative integer")
		return
	}
	info := d.sandboxes.StatusHistorical(projectID, iteration)
	writeJSON(w, http.StatusOK, describePreview(projectID, iteration, info))
}

func (d *Daemon) handleStopPreview(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")
	iteration, ok := previewIteration(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "iteration must be a non-negative integer")
		return
	}
	d.sandboxes.StopHistorical(projectID, iteration)
	writeJSON(w, http.StatusOK, previewResponse{
		ProjectID: projectID,
		Iteration: iteration,
		Status:    sandbox.StatusStopped,
	})
}

func describePreview(projectID string, iteration int, info sandbox.Info) previewResponse {
	return previewResponse{
		ProjectID:  projectID,
		Iteration:  iteration,
		Status:     info.Status,
		PreviewURL: info.PreviewURL,
		Error:      info.Error,
	}
}

func describeRun(run *engine.Run) runResponse {
	resp := runResponse{
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Status:    "running",
	}
	select {
	case <-run.Done():
		result := run.Result()
		resp.Status = result.Status
		resp.StopReason = string(result.StopReason)
		resp.Message = result.Message
		resp.Iterations = result.Iterations
		resp.BestIteration = result.BestIteration
		resp.BestScore = result.BestScore
	default:
	}
	return resp
}

func statusFor(err error) int {
	var notFound *errors.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var validation *errors.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
