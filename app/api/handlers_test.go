package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/claim-comb/app/claim"
	"github.com/lysyi3m/claim-comb/app/source"
	"github.com/lysyi3m/claim-comb/app/tasks"
	"github.com/lysyi3m/claim-comb/app/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	verdict claim.Verdict
	err     error
	input   string
	mode    verify.Mode
}

func (f *fakeVerifier) Verify(ctx context.Context, input string, mode verify.Mode) (claim.Verdict, error) {
	f.input = input
	f.mode = mode
	return f.verdict, f.err
}

type fakeCatalog struct {
	configs []*source.Config
}

func (f *fakeCatalog) Run() error { return nil }

func (f *fakeCatalog) GetEnabledConfigs() []*source.Config { return f.configs }

func (f *fakeCatalog) GetConfigs() []*source.Config { return f.configs }

func (f *fakeCatalog) GetConfigCount() int { return len(f.configs) }

type fakeRegistry struct{ count int }

func (f *fakeRegistry) Reload(configs []*source.Config) int {
	f.count = len(configs)
	return f.count
}

func (f *fakeRegistry) Count() int { return f.count }

type fakeCache struct{ entries int }

func (f *fakeCache) Len(ctx context.Context) int { return f.entries }

type fakeScheduler struct {
	queued []tasks.TaskInterface
	err    error
}

func (f *fakeScheduler) Start() {}

func (f *fakeScheduler) Stop() {}

func (f *fakeScheduler) EnqueueTask(task tasks.TaskInterface) error {
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, task)
	return nil
}

type harness struct {
	verifier  *fakeVerifier
	scheduler *fakeScheduler
	router    *gin.Engine
}

func newHarness(apiKey string) *harness {
	verifier := &fakeVerifier{
		verdict: claim.Verdict{
			Fingerprint: "abc123",
			Claim:       "The river flooded the old town",
			Label:       claim.LabelTrue,
			Confidence:  0.82,
			Rationale:   "Two regional outlets report the flood.",
			CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	catalog := &fakeCatalog{configs: []*source.Config{
		{
			Name:     "newsapi",
			Type:     source.TypeNewsAPI,
			APIKey:   "secret",
			Tier:     "mainstream",
			Settings: source.Settings{Enabled: true, Priority: 1, MaxItems: 8, Timeout: 10, RateLimit: 1},
		},
		{
			Name:     "gdelt",
			Type:     source.TypeGDELT,
			Settings: source.Settings{Enabled: true, MaxItems: 8, Timeout: 15},
		},
	}}
	scheduler := &fakeScheduler{}

	handler := NewHandler(verifier, catalog, &fakeRegistry{count: 2}, &fakeCache{entries: 7}, scheduler)

	return &harness{
		verifier:  verifier,
		scheduler: scheduler,
		router:    NewServer(handler, apiKey),
	}
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestVerifyReturnsVerdict(t *testing.T) {
	h := newHarness("")

	w := h.do(http.MethodPost, "/api/verify", `{"input":"The river flooded the old town"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "false", w.Header().Get("X-Verdict-Cached"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, verify.ModeText, h.verifier.mode)
	assert.Equal(t, "The river flooded the old town", h.verifier.input)

	body := decode(t, w)
	assert.Equal(t, "TRUE", body["label"])
	assert.InDelta(t, 0.82, body["confidence"], 1e-9)
	assert.Equal(t, "abc123", body["fingerprint"])
}

func TestVerifyURLMode(t *testing.T) {
	h := newHarness("")

	w := h.do(http.MethodPost, "/api/verify", `{"input":"https://example.com/a","mode":"URL"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, verify.ModeURL, h.verifier.mode)
}

func TestVerifyRejectsBadRequests(t *testing.T) {
	h := newHarness("")

	cases := map[string]string{
		"missing input": `{"mode":"text"}`,
		"bad json":      `{"input":`,
		"unknown mode":  `{"input":"claim","mode":"audio"}`,
	}

	for name, body := range cases {
		w := h.do(http.MethodPost, "/api/verify", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestVerifyFailureIsUnprocessable(t *testing.T) {
	h := newHarness("")
	h.verifier.err = &verify.Failure{
		Stage:  verify.StageResolve,
		Reason: "page could not be fetched",
		Err:    verify.ErrResolutionFailed,
	}

	w := h.do(http.MethodPost, "/api/verify", `{"input":"https://example.com/gone","mode":"url"}`, nil)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, string(verify.StageResolve), body["stage"])
	assert.Equal(t, "page could not be fetched", body["reason"])
}

func TestVerifyUnexpectedError(t *testing.T) {
	h := newHarness("")
	h.verifier.err = errors.New("boom")

	w := h.do(http.MethodPost, "/api/verify", `{"input":"claim"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuthentication(t *testing.T) {
	h := newHarness("letmein")

	w := h.do(http.MethodPost, "/api/verify", `{"input":"claim"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/verify", `{"input":"claim"}`, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/verify", `{"input":"claim"}`, map[string]string{"X-API-Key": "letmein"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/sources", "", map[string]string{"Authorization": "Bearer letmein"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness("")

	w := h.do(http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["loaded_sources"])
	assert.EqualValues(t, 2, body["active_adapters"])
	assert.EqualValues(t, 7, body["cached_verdicts"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestListSources(t *testing.T) {
	h := newHarness("")

	w := h.do(http.MethodGet, "/api/sources", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")

	body := decode(t, w)
	assert.EqualValues(t, 2, body["total"])

	sources := body["sources"].([]interface{})
	first := sources[0].(map[string]interface{})
	assert.Equal(t, "newsapi", first["name"])
	assert.Equal(t, true, first["has_api_key"])
	assert.Equal(t, "10s", first["timeout"])
}

func TestReloadSources(t *testing.T) {
	h := newHarness("")

	w := h.do(http.MethodPost, "/api/sources/reload", "", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, h.scheduler.queued, 1)
	assert.Equal(t, tasks.TaskTypeSyncSources, h.scheduler.queued[0].GetType())

	task := decode(t, w)["task"].(map[string]interface{})
	assert.Equal(t, h.scheduler.queued[0].GetID(), task["id"])

	h.scheduler.err = tasks.ErrQueueFull
	w = h.do(http.MethodPost, "/api/sources/reload", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newHarness("")

	w := h.do(http.MethodGet, "/", "", map[string]string{requestIDHeader: "req-42"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}

func TestPreflight(t *testing.T) {
	h := newHarness("letmein")

	w := h.do(http.MethodOptions, "/api/verify", "", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestVerifyBadBodyHidesDecoderDetails(t *testing.T) {
	h := newHarness("")

	cases := map[string]string{
		"truncated json": `{"input":`,
		"wrong type":     `{"input":42}`,
		"missing input":  `{"mode":"text"}`,
	}

	for name, body := range cases {
		w := h.do(http.MethodPost, "/api/verify", body, nil)

		require.Equal(t, http.StatusBadRequest, w.Code, name)
		resp := decode(t, w)
		assert.Equal(t, "Invalid request body", resp["error"], name)
		assert.Equal(t, "body must be a JSON object with a non-empty 'input' field", resp["details"], name)
		assert.NotContains(t, w.Body.String(), "unexpected EOF", name)
		assert.NotContains(t, w.Body.String(), "verifyRequest", name)
	}
}
