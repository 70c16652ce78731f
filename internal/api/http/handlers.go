// Package http serves the REST surface of the execution pipeline.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hb-chen/skillexec/internal/codecache"
	"github.com/hb-chen/skillexec/internal/orchestrator"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/pkg/grpc/gateway"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// maxBodyBytes bounds execute request bodies
const maxBodyBytes = 1 << 20

// Handlers contains HTTP handlers
type Handlers struct {
	orch    *orchestrator.Orchestrator
	cache   *codecache.Cache
	metrics http.Handler
}

// NewHandlers creates new HTTP handlers. metrics may be nil.
func NewHandlers(orch *orchestrator.Orchestrator, cache *codecache.Cache, metrics http.Handler) *Handlers {
	return &Handlers{
		orch:    orch,
		cache:   cache,
		metrics: metrics,
	}
}

// Register mounts every route on gw
func (h *Handlers) Register(gw *gateway.Gateway) error {
	v1 := gw.Group("/api/v1")
	v1.POST("/execute", h.Execute)
	v1.GET("/skills", h.ListSkills)
	v1.GET("/stats", h.ExecutionStats)
	v1.GET("/cache/stats", h.CacheStats)
	v1.DELETE("/cache", h.ClearCache)
	v1.DELETE("/cache/{name}", h.InvalidateCache)

	if err := gw.Mux().HandlePath(http.MethodGet, "/health", h.HealthCheck); err != nil {
		return err
	}
	if h.metrics != nil {
		metrics := h.metrics
		err := gw.Mux().HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			metrics.ServeHTTP(w, r)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ExecuteRequest is the body of POST /api/v1/execute
type ExecuteRequest struct {
	ID          string         `json:"id,omitempty"`
	SkillName   string         `json:"skillName"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	TimeoutMs   int64          `json:"timeoutMs,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
}

// SkillSummary is one entry of GET /api/v1/skills
type SkillSummary struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Executor    skill.ExecutorType `json:"executor"`
	Cacheable   bool               `json:"cacheable"`
	Sandboxed   bool               `json:"sandboxed"`
	Protocol    string             `json:"protocol,omitempty"`
}

// Execute handles skill execution
func (h *Handlers) Execute(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		logger.Debugf("Failed to decode execute request: %v", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.SkillName == "" {
		writeError(w, http.StatusBadRequest, "skillName is required")
		return
	}
	if body.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, "timeoutMs must not be negative")
		return
	}

	req := &skill.ExecutionRequest{
		ID:          body.ID,
		SkillName:   body.SkillName,
		Parameters:  body.Parameters,
		Context:     body.Context,
		Timeout:     time.Duration(body.TimeoutMs) * time.Millisecond,
		Permissions: body.Permissions,
	}
	resp, err := h.orch.Execute(r.Context(), req)
	if err != nil {
		logger.Infow("skill execution failed",
			"request_id", req.ID,
			"skill", req.SkillName,
			"kind", string(skillerr.KindOf(err)),
		)
	}
	writeJSON(w, statusFor(err), resp)
}

// statusFor maps an execution error onto an HTTP status
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, skill.ErrSkillNotFound):
		return http.StatusNotFound
	}
	switch skillerr.KindOf(err) {
	case skillerr.KindSecurityValidation:
		return http.StatusForbidden
	case skillerr.KindResourceLimit:
		return http.StatusRequestTimeout
	case skillerr.KindCodeExtraction, skillerr.KindCompilation, skillerr.KindDependencyResolution:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ListSkills lists the registered skills
func (h *Handlers) ListSkills(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	defs := h.orch.Registry().List()
	skills := make([]SkillSummary, 0, len(defs))
	for _, def := range defs {
		skills = append(skills, SkillSummary{
			Name:        def.Metadata.Name,
			Description: def.Metadata.Description,
			Executor:    def.Metadata.PrimaryExecutor(),
			Cacheable:   def.Metadata.Cacheable,
			Sandboxed:   def.Metadata.Sandboxed(),
			Protocol:    def.Metadata.Protocol,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": skills, "count": len(skills)})
}

// ExecutionStats returns the per-executor statistics
func (h *Handlers) ExecutionStats(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]any{"executors": h.orch.GetExecutionStats()})
}

// CacheStats returns the code cache statistics
func (h *Handlers) CacheStats(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// ClearCache drops every cached artifact
func (h *Handlers) ClearCache(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	h.cache.Clear()
	logger.Infof("Code cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateCache drops the cached artifact of one skill
func (h *Handlers) InvalidateCache(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	name := params["name"]
	if !h.cache.Invalidate(name) {
		writeError(w, http.StatusNotFound, "no cached artifact for skill "+name)
		return
	}
	logger.Infof("Code cache entry invalidated: %s", name)
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"skills":    h.orch.Registry().Count(),
		"executors": h.orch.Executors(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
