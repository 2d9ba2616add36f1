// Package handlers implements the HTTP surface of the uiforge server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/agentoven/uiforge/internal/agent"
	"github.com/agentoven/uiforge/internal/api/middleware"
	"github.com/agentoven/uiforge/internal/archive"
	"github.com/agentoven/uiforge/internal/pipeline"
	"github.com/agentoven/uiforge/internal/workflow"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies; reference images arrive inline.
const maxBodyBytes = 20 << 20

// maxResults bounds how many async run results are kept for polling.
const maxResults = 256

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine   *workflow.Engine
	Registry *pipeline.Registry
	Archive  archive.Archiver

	mu       sync.RWMutex
	results  map[string]*models.RunResult
	order    []string
	inFlight sync.WaitGroup
}

// New creates a Handlers instance. archiver may be nil.
func New(engine *workflow.Engine, registry *pipeline.Registry, archiver archive.Archiver) *Handlers {
	return &Handlers{
		Engine:   engine,
		Registry: registry,
		Archive:  archiver,
		results:  make(map[string]*models.RunResult),
	}
}

// Wait blocks until every async run started by these handlers has finished
// or ctx ends.
func (h *Handlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Runs ────────────────────────────────────────────────────

type runRequest struct {
	models.RunRequest
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
	Async     bool  `json:"async,omitempty"`
}

// CreateRun executes a run. Synchronous runs answer with the terminal
// result. Async runs answer 202 with a run ID to poll.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req := body.RunRequest
	if req.ProjectID == "" {
		req.ProjectID = middleware.GetProject(r.Context())
	}
	if body.TimeoutMs < 0 {
		respondError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}
	req.Timeout = time.Duration(body.TimeoutMs) * time.Millisecond

	if !body.Async {
		result, err := h.Engine.Run(r.Context(), req)
		if err != nil {
			respondJSON(w, statusFor(result.Error.Kind), result)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	// The run outlives the request but keeps its trace. Start registers the
	// run before returning, so the poll URL answers immediately.
	runID, done, err := h.Engine.Start(context.WithoutCancel(r.Context()), req)
	if err != nil {
		if errors.Is(err, workflow.ErrRunExists) {
			respondError(w, http.StatusConflict, "Run already exists: "+req.RunID)
			return
		}
		respondJSON(w, statusFor(agent.KindOf(err)), map[string]any{"error": err})
		return
	}
	h.inFlight.Add(1)
	go func() {
		defer h.inFlight.Done()
		if result, ok := <-done; ok {
			h.storeResult(result)
		}
	}()

	log.Info().
		Str("run_id", req.RunID).
		Str("tool", string(req.Tool)).
		Str("project", req.ProjectID).
		Msg("Async run accepted")

	respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(models.RunPending),
		"poll":   "/api/v1/runs/" + runID,
	})
}

func (h *Handlers) storeResult(res *models.RunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.results[res.RunID]; !ok {
		h.order = append(h.order, res.RunID)
	}
	h.results[res.RunID] = res
	for len(h.order) > maxResults {
		delete(h.results, h.order[0])
		h.order = h.order[1:]
	}
}

// GetRun returns the terminal result of an async run, or its current status.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	h.mu.RLock()
	res, ok := h.results[runID]
	h.mu.RUnlock()
	if ok {
		respondJSON(w, http.StatusOK, res)
		return
	}

	status, ok := h.Engine.Status(runID)
	if !ok {
		respondError(w, http.StatusNotFound, "Run not found: "+runID)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"run_id": runID,
		"status": string(status),
	})
}

// CancelRun cancels an in-flight run.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if ok := h.Engine.CancelRun(runID); !ok {
		respondError(w, http.StatusNotFound, "Run not found or already completed: "+runID)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "canceling",
	})
}

// RunTelemetry returns the telemetry summary of a run.
func (h *Handlers) RunTelemetry(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	sum, ok := h.Engine.Summary(r.Context(), runID)
	if !ok {
		respondError(w, http.StatusNotFound, "No telemetry for run: "+runID)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

// ── Catalog ─────────────────────────────────────────────────

// ListTools lists the tool kinds and their stage layers.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	type toolInfo struct {
		Tool   models.ToolKind `json:"tool"`
		Layers [][]string      `json:"layers"`
	}
	out := []toolInfo{}
	for _, tool := range h.Registry.Tools() {
		def, err := h.Registry.Resolve(tool, pipeline.Options{})
		if err != nil {
			continue
		}
		layers, err := def.Layers()
		if err != nil {
			continue
		}
		info := toolInfo{Tool: tool}
		for _, l := range layers {
			names := make([]string, len(l.Stages))
			for i, st := range l.Stages {
				names[i] = st.Name
			}
			info.Layers = append(info.Layers, names)
		}
		out = append(out, info)
	}
	respondJSON(w, http.StatusOK, out)
}

// ── Projects ────────────────────────────────────────────────

// GetProjectDNA returns the accumulated design DNA of a project.
func (h *Handlers) GetProjectDNA(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	dna, err := h.Engine.Project(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if dna == nil {
		dna = models.DesignDNA{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"tokens":     dna,
	})
}

// GetArchivedRun loads an archived artifact bundle.
func (h *Handlers) GetArchivedRun(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		respondError(w, http.StatusNotFound, "Archive is disabled")
		return
	}
	projectID := chi.URLParam(r, "projectID")
	runID := chi.URLParam(r, "runID")

	rec, err := h.Archive.Load(r.Context(), projectID, runID)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Archived run not found: "+runID)
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ── Helpers ─────────────────────────────────────────────────

// statusFor maps a run failure kind to an HTTP status.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidConfiguration:
		return http.StatusBadRequest
	case models.KindRejectedContent:
		return http.StatusUnprocessableEntity
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindTransient:
		return http.StatusBadGateway
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	case models.KindCanceled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
