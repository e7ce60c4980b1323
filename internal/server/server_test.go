package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/config"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

// fakeEngine 模拟引擎的"同一线程同一时刻一轮"约束；gate 不为 nil 时每轮会阻塞到 gate 关闭。
type fakeEngine struct {
	mu       sync.Mutex
	inflight map[string]bool
	calls    []string
	cleared  []string
	gate     chan struct{}
	entered  chan struct{}
	err      error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{inflight: make(map[string]bool)}
}

func (f *fakeEngine) HandleMessage(ctx context.Context, threadID, userID, text string) (agent.TurnResult, error) {
	f.mu.Lock()
	if f.inflight[threadID] {
		f.mu.Unlock()
		return agent.TurnResult{}, agent.ErrThreadBusy
	}
	f.inflight[threadID] = true
	f.calls = append(f.calls, userID+":"+text)
	gate, entered, err := f.gate, f.entered, f.err
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.inflight, threadID)
		f.mu.Unlock()
	}()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return agent.TurnResult{}, err
	}
	return agent.TurnResult{
		ThreadID: threadID,
		TraceID:  "trace-1",
		Reply:    "echo: " + text,
		Plan:     "1. answer",
		Artifacts: []agent.Artifact{
			{ID: "a1", Kind: "plotly_figure", Title: "Prices", Data: json.RawMessage(`{"data":[]}`)},
		},
	}, nil
}

func (f *fakeEngine) ClearThread(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight[threadID] {
		return agent.ErrThreadBusy
	}
	f.cleared = append(f.cleared, threadID)
	return nil
}

type fixture struct {
	store  *storage.Storage
	engine *fakeEngine
	srv    *httptest.Server
	user   *storage.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "server.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, p := range []storage.Project{
		{Name: "Palm Hills New Cairo", LocationName: "New Cairo, Cairo", MinPrice: 4_000_000, MaxPrice: 9_000_000},
		{Name: "Sodic East", LocationName: "New Cairo, Cairo", MinPrice: 6_000_000, MaxPrice: 8_000_000},
		{Name: "Zed Towers", LocationName: "Sheikh Zayed, Giza", MinPrice: 2_000_000, MaxPrice: 3_000_000},
	} {
		p := p
		require.NoError(t, store.UpsertProject(ctx, &p, nil))
	}

	u := &storage.User{Email: "Sara@Example.com", Name: "Sara", PreferredLocations: []string{"New Cairo"}, AverageBudget: 5_000_000}
	require.NoError(t, store.CreateUser(ctx, u))

	engine := newFakeEngine()
	s, err := New(config.ServerConfig{}, engine, store)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{store: store, engine: engine, srv: srv, user: u}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestChat_RoutesToUserThread(t *testing.T) {
	f := setup(t)

	resp, body := f.do(t, http.MethodPost, "/api/chat", map[string]string{"user_id": f.user.ID, "message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, f.user.ThreadID, body["thread_id"])
	assert.Equal(t, "echo: hello", body["reply"])
	assert.Equal(t, "1. answer", body["plan"])
	assert.Equal(t, false, body["failed"])
	artifacts, ok := body["artifacts"].([]any)
	require.True(t, ok)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "plotly_figure", artifacts[0].(map[string]any)["kind"])

	assert.Equal(t, []string{f.user.ID + ":hello"}, f.engine.calls)
}

func TestChat_Validation(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "missing user", body: map[string]string{"message": "hi"}, status: http.StatusBadRequest},
		{name: "blank message", body: map[string]string{"user_id": f.user.ID, "message": "   "}, status: http.StatusBadRequest},
		{name: "unknown field", body: map[string]string{"user_id": f.user.ID, "message": "hi", "thread": "x"}, status: http.StatusBadRequest},
		{name: "unknown user", body: map[string]string{"user_id": "nope", "message": "hi"}, status: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/chat", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, f.engine.calls)
}

func TestChat_ConcurrentRequestForSameThreadIsRejected(t *testing.T) {
	f := setup(t)
	f.engine.gate = make(chan struct{})
	f.engine.entered = make(chan struct{}, 1)

	type result struct {
		status int
		reply  any
	}
	first := make(chan result, 1)
	go func() {
		resp, body := f.do(t, http.MethodPost, "/api/chat", map[string]string{"user_id": f.user.ID, "message": "first"})
		first <- result{status: resp.StatusCode, reply: body["reply"]}
	}()

	select {
	case <-f.engine.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never started")
	}

	resp, body := f.do(t, http.MethodPost, "/api/chat", map[string]string{"user_id": f.user.ID, "message": "second"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "still being processed")

	resp, _ = f.do(t, http.MethodDelete, "/api/chat?user_id="+f.user.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(f.engine.gate)
	select {
	case r := <-first:
		assert.Equal(t, http.StatusOK, r.status)
		assert.Equal(t, "echo: first", r.reply)
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never finished")
	}
	assert.Empty(t, f.engine.cleared)
}

func TestChat_EngineFailureIs500(t *testing.T) {
	f := setup(t)
	f.engine.err = errors.Join(agent.ErrCheckpoint, errors.New("disk full"))

	resp, body := f.do(t, http.MethodPost, "/api/chat", map[string]string{"user_id": f.user.ID, "message": "hi"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to process message", body["error"])
}

func TestClearChat(t *testing.T) {
	f := setup(t)

	resp, _ := f.do(t, http.MethodDelete, "/api/chat?user_id="+f.user.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{f.user.ThreadID}, f.engine.cleared)

	resp, _ = f.do(t, http.MethodDelete, "/api/chat", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func projectNames(t *testing.T, body map[string]any) []string {
	t.Helper()
	items, ok := body["projects"].([]any)
	require.True(t, ok, "projects should be a JSON array")
	var names []string
	for _, it := range items {
		names = append(names, it.(map[string]any)["name"].(string))
	}
	return names
}

func TestProjects(t *testing.T) {
	f := setup(t)

	resp, body := f.do(t, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Zed Towers", "Palm Hills New Cairo", "Sodic East"}, projectNames(t, body))

	resp, body = f.do(t, http.MethodGet, "/api/projects?location=new%20cairo&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Palm Hills New Cairo"}, projectNames(t, body))

	first := body["projects"].([]any)[0].(map[string]any)
	assert.Equal(t, "4,000,000 EGP - 9,000,000 EGP", first["price_range"])

	resp, _ = f.do(t, http.MethodGet, "/api/projects?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/projects?location=alexandria", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, projectNames(t, body))
}

func TestRecommendedProjects(t *testing.T) {
	f := setup(t)

	resp, body := f.do(t, http.MethodGet, "/api/projects/recommended?user_id="+f.user.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Palm Hills New Cairo"}, projectNames(t, body))
	profile := body["profile"].(map[string]any)
	assert.Equal(t, "sara@example.com", profile["email"])

	// 清空偏好区域后在全部区域内按预算检索
	empty := []string{}
	_, err := f.store.UpdateUserProfile(context.Background(), f.user.ID, storage.ProfileUpdate{PreferredLocations: &empty})
	require.NoError(t, err)

	_, body = f.do(t, http.MethodGet, "/api/projects/recommended?user_id="+f.user.ID, nil)
	assert.Equal(t, []string{"Zed Towers", "Palm Hills New Cairo"}, projectNames(t, body))

	resp, _ = f.do(t, http.MethodGet, "/api/projects/recommended?user_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProfile_GetAndUpdate(t *testing.T) {
	f := setup(t)
	path := "/api/users/" + f.user.ID + "/profile"

	resp, body := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Sara", body["name"])
	assert.EqualValues(t, 5_000_000, body["budget"])

	resp, body = f.do(t, http.MethodPut, path, map[string]any{
		"preferred_locations": []string{"Sheikh Zayed", " sheikh zayed ", "6th of October"},
		"family_size":         4,
		"is_investor":         true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Sara", body["name"], "omitted fields stay unchanged")
	assert.Equal(t, []any{"Sheikh Zayed", "6th of October"}, body["preferred_locations"])
	assert.EqualValues(t, 4, body["family_size"])
	assert.Equal(t, true, body["is_investor"])

	u, err := f.store.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), u.AverageBudget)
	assert.True(t, u.IsInvestor)

	resp, _ = f.do(t, http.MethodPut, path, map[string]any{"budget": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/users/missing/profile", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/users/missing/profile", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	f := setup(t)

	resp, body := f.do(t, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	require.NoError(t, f.store.Close())
	resp, body = f.do(t, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["status"])
}

func TestMethodNotAllowed(t *testing.T) {
	f := setup(t)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/chat", strings.NewReader(""))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(config.ServerConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	f := setup(t)
	s, err := New(config.ServerConfig{Addr: "127.0.0.1:0"}, f.engine, f.store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
