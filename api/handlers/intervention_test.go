package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsergrid/handoff/coordinator"
	"github.com/browsergrid/handoff/session"
	"github.com/browsergrid/handoff/types"
)

func newTestAPI(t *testing.T) (*coordinator.Registry, http.Handler) {
	t.Helper()
	registry := coordinator.NewRegistry(session.NewMemoryStore(), coordinator.Config{}, nil)
	h := NewInterventionHandler(registry, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/interventions", h.HandleList)
	mux.HandleFunc("GET /api/v1/interventions/{id}", h.HandleGet)
	mux.HandleFunc("GET /api/v1/interventions/{id}/status", h.HandleStatus)
	mux.HandleFunc("POST /api/v1/interventions/{id}/ack", h.HandleAcknowledge)
	mux.HandleFunc("POST /api/v1/interventions/{id}/resolve", h.HandleResolve)
	mux.HandleFunc("POST /api/v1/interventions/{id}/cancel", h.HandleCancel)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", h.HandleCloseRun)
	return registry, mux
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func openSession(t *testing.T, registry *coordinator.Registry, runID string) *types.Session {
	t.Helper()
	sess, err := registry.GetOrCreate(runID).Request(context.Background(), coordinator.RequestOptions{
		Category: types.CategoryCaptcha,
		Reason:   "CAPTCHA detected",
	})
	require.NoError(t, err)
	return sess
}

func TestHandleListOpenSessions(t *testing.T) {
	registry, api := newTestAPI(t)
	a := openSession(t, registry, "run-a")
	b := openSession(t, registry, "run-b")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/interventions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var sessions []SessionInfo
	require.NoError(t, json.Unmarshal(raw, &sessions))

	require.Len(t, sessions, 2)
	ids := []string{sessions[0].ID, sessions[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestHandleListByRun(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")
	require.NoError(t, registry.Resolve(context.Background(), sess.ID, nil))
	openSession(t, registry, "run-b")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/interventions?run_id=run-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Data)
	var sessions []SessionInfo
	require.NoError(t, json.Unmarshal(raw, &sessions))

	require.Len(t, sessions, 1)
	assert.Equal(t, sess.ID, sessions[0].ID)
	assert.Equal(t, types.StatusCompleted, sessions[0].Status)
}

func TestHandleGet(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/interventions/"+sess.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Data)
	var info SessionInfo
	require.NoError(t, json.Unmarshal(raw, &info))

	assert.Equal(t, sess.ID, info.ID)
	assert.Equal(t, "run-a", info.RunID)
	assert.Equal(t, types.StatusPending, info.Status)
	assert.Equal(t, types.CategoryCaptcha, info.Category)
	assert.NotEmpty(t, info.Instructions)
	require.NotNil(t, info.TimeoutAt)
}

func TestHandleGetNotFound(t *testing.T) {
	_, api := newTestAPI(t)
	rec := doRequest(t, api, http.MethodGet, "/api/v1/interventions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrSessionNotFound), resp.Error.Code)
}

func TestHandleStatusPolling(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")

	rec := doRequest(t, api, http.MethodGet, "/api/v1/interventions/"+sess.ID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Data)
	var info StatusInfo
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, types.StatusPending, info.Status)
}

func TestHandleAcknowledge(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")

	rec := doRequest(t, api, http.MethodPost, "/api/v1/interventions/"+sess.ID+"/ack", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status, err := registry.StatusOf(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, status)
}

func TestHandleResolveUnblocksWaiter(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")

	coord := registry.Get("run-a")
	outCh := make(chan *coordinator.Outcome, 1)
	go func() {
		out, err := coord.Await(context.Background(), sess.ID)
		require.NoError(t, err)
		outCh <- out
	}()

	rec := doRequest(t, api, http.MethodPost,
		"/api/v1/interventions/"+sess.ID+"/resolve",
		`{"resolution":{"captcha_token":"tok-123"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case out := <-outCh:
		assert.Equal(t, types.StatusCompleted, out.Status)
		assert.JSONEq(t, `{"captcha_token":"tok-123"}`, string(out.Resolution))
	case <-time.After(time.Second):
		t.Fatal("waiter not unblocked by resolve")
	}
}

func TestHandleResolveClosedSessionConflicts(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")
	require.NoError(t, registry.Resolve(context.Background(), sess.ID, nil))

	rec := doRequest(t, api, http.MethodPost, "/api/v1/interventions/"+sess.ID+"/resolve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInvalidState), resp.Error.Code)
}

func TestHandleCancel(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")

	rec := doRequest(t, api, http.MethodPost,
		"/api/v1/interventions/"+sess.ID+"/cancel", `{"reason":"cannot complete"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	loaded, err := registry.Session(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, loaded.Status)
	assert.Equal(t, "cannot complete", loaded.CancelReason)
}

func TestHandleCancelBadBody(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")

	rec := doRequest(t, api, http.MethodPost,
		"/api/v1/interventions/"+sess.ID+"/cancel", `{"nope":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Rejected input does not touch the session.
	status, err := registry.StatusOf(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, status)
}

func TestHandleCloseRun(t *testing.T) {
	registry, api := newTestAPI(t)
	sess := openSession(t, registry, "run-a")

	rec := doRequest(t, api, http.MethodDelete, "/api/v1/runs/run-a", `{"reason":"operator abort"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	loaded, err := registry.Session(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, loaded.Status)
	assert.Equal(t, "operator abort", loaded.CancelReason)
	assert.Nil(t, registry.Get("run-a"))

	rec = doRequest(t, api, http.MethodDelete, "/api/v1/runs/run-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
