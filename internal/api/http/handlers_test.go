package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb-chen/skillexec/internal/codecache"
	"github.com/hb-chen/skillexec/internal/metrics"
	"github.com/hb-chen/skillexec/internal/orchestrator"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
	"github.com/hb-chen/skillexec/pkg/grpc/gateway"
)

type executorFunc func(ctx context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error)

func (f executorFunc) Execute(ctx context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error) {
	return f(ctx, req)
}

func fail(err error) (*skill.ExecutionResponse, error) {
	return &skill.ExecutionResponse{
		Error:    skillerr.Describe(err),
		Metadata: skill.ExecutionMetadata{ExecutionType: skill.ExecutorDirect},
	}, err
}

type fixture struct {
	gw    *gateway.Gateway
	cache *codecache.Cache
	last  *skill.ExecutionRequest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := skill.NewRegistry()
	for _, name := range []string{"echo", "evil", "slow"} {
		require.NoError(t, registry.Register(&skill.SkillDefinition{
			Metadata: skill.SkillMetadata{Name: name, Description: "Test skill " + name, Cacheable: true},
		}))
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, nil)
	orch := orchestrator.New(orchestrator.Options{
		Registry:  registry,
		Metrics:   collector,
		Fallbacks: map[skill.ExecutorType][]skill.ExecutorType{},
	})

	f := &fixture{gw: gateway.New(), cache: codecache.New(8, time.Hour)}
	metrics.RegisterCache("test", reg, f.cache)

	require.NoError(t, orch.RegisterExecutor(skill.ExecutorDirect, executorFunc(
		func(_ context.Context, req *skill.ExecutionRequest) (*skill.ExecutionResponse, error) {
			f.last = req
			switch req.SkillName {
			case "evil":
				return fail(&skillerr.SecurityValidationError{RiskLevel: skill.RiskHigh})
			case "slow":
				return fail(&skillerr.ResourceLimitError{Resource: skillerr.ResourceTime, Limit: 10, Actual: 20})
			}
			return &skill.ExecutionResponse{
				Success:  true,
				Result:   req.Parameters["msg"],
				Metadata: skill.ExecutionMetadata{ExecutionType: skill.ExecutorDirect},
			}, nil
		})))

	h := NewHandlers(orch, f.cache, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	require.NoError(t, h.Register(f.gw))
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestExecute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/execute",
		`{"skillName":"echo","parameters":{"msg":"hi"},"timeoutMs":1500}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp skill.ExecutionResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "hi", resp.Result)
	assert.Equal(t, 1500*time.Millisecond, f.last.Timeout)
	assert.NotEmpty(t, f.last.ID)
}

func TestExecuteErrorStatus(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		body   string
		status int
		code   string
	}{
		{`{"skillName":"evil"}`, http.StatusForbidden, string(skillerr.KindSecurityValidation)},
		{`{"skillName":"slow"}`, http.StatusRequestTimeout, string(skillerr.KindResourceLimit)},
		{`{"skillName":"missing"}`, http.StatusNotFound, string(skillerr.KindExecution)},
	}
	for _, tc := range cases {
		rec := f.do(http.MethodPost, "/api/v1/execute", tc.body)
		assert.Equal(t, tc.status, rec.Code, tc.body)

		var resp skill.ExecutionResponse
		decode(t, rec, &resp)
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, tc.code, resp.Error.Code)
	}
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`not json`, `{}`, `{"skillName":"echo","timeoutMs":-1}`} {
		rec := f.do(http.MethodPost, "/api/v1/execute", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Nil(t, f.last, "nothing reaches the executor")
}

func TestListSkillsAndStats(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/v1/execute", `{"skillName":"echo"}`)

	rec := f.do(http.MethodGet, "/api/v1/skills", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Skills []SkillSummary `json:"skills"`
		Count  int            `json:"count"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 3, list.Count)
	assert.Equal(t, "echo", list.Skills[0].Name)
	assert.Equal(t, skill.ExecutorDirect, list.Skills[0].Executor)
	assert.True(t, list.Skills[0].Sandboxed)

	rec = f.do(http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Executors []metrics.TypeStats `json:"executors"`
	}
	decode(t, rec, &stats)
	require.Len(t, stats.Executors, 1)
	assert.Equal(t, int64(1), stats.Executors[0].Successes)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("echo", "h1", &skill.CompiledArtifact{}, &skill.SecurityReport{}, codecache.EntryMetrics{})
	f.cache.Set("evil", "h2", &skill.CompiledArtifact{}, &skill.SecurityReport{}, codecache.EntryMetrics{})

	rec := f.do(http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats codecache.Stats
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.Size)

	rec = f.do(http.MethodDelete, "/api/v1/cache/echo", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodDelete, "/api/v1/cache/echo", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, f.cache.Len())

	rec = f.do(http.MethodDelete, "/api/v1/cache", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.cache.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/api/v1/execute", `{"skillName":"echo"}`)

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.EqualValues(t, 3, health["skills"])

	rec = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_skill_executions_total")
	assert.Contains(t, rec.Body.String(), "test_code_cache_entries")
}
