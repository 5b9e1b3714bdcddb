package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mhsanaei/xray-daemon/caching"
	"github.com/mhsanaei/xray-daemon/database"
	"github.com/mhsanaei/xray-daemon/web/entity"
	"github.com/mhsanaei/xray-daemon/web/middleware"
	"github.com/mhsanaei/xray-daemon/web/service"
	"github.com/mhsanaei/xray-daemon/xray"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-key"

type stubXray struct {
	mu     sync.Mutex
	users  map[string]bool
	addErr error
	hold   chan struct{}
}

func (s *stubXray) AddUser(_ context.Context, user *xray.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.users[user.InboundTag+"/"+user.Email] = true
	return nil
}

func (s *stubXray) RemoveUser(_ context.Context, tag, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.users[tag+"/"+email] {
		return &xray.Error{Kind: xray.KindNotFound, Detail: "User " + email + " not found."}
	}
	delete(s.users, tag+"/"+email)
	return nil
}

func (s *stubXray) GetUserTraffic(context.Context, string, bool) xray.TrafficSample {
	if s.hold != nil {
		<-s.hold
	}
	return xray.TrafficSample{Uplink: xray.Counter{Value: 1}, Downlink: xray.Counter{Value: 2}}
}

func (s *stubXray) GetInboundTraffic(context.Context, string, bool) xray.TrafficSample {
	return xray.TrafficSample{
		Uplink:   xray.Counter{Value: 300},
		Downlink: xray.Counter{Err: &xray.Error{Kind: xray.KindUnavailable, Detail: "deadline exceeded"}},
	}
}

type apiFixture struct {
	engine    *gin.Engine
	xray      *stubXray
	reconcile *service.ReconcileService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	stub := &stubXray{users: map[string]bool{}}
	accounts := service.NewAccountService(db, stub)
	stats := service.NewStatsService(accounts, stub, caching.NewCache(0))
	reconcile := service.NewReconcileService(accounts, stub, service.ReconcileConfig{})

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	v1 := engine.Group("/v1")
	v1.GET("/health", Health)
	api := v1.Group("", middleware.APIKeyAuth(testAPIKey))
	NewAccountController(api.Group("/users"), accounts)
	NewServerController(context.Background(), api, stats, reconcile)

	return &apiFixture{engine: engine, xray: stub, reconcile: reconcile}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeMsg(t *testing.T, w *httptest.ResponseRecorder, obj any) entity.Msg {
	t.Helper()
	m := entity.Msg{Obj: obj}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func TestAccountLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/users/vless-in", gin.H{"email": "alice", "quota": 1024})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := map[string]any{}
	m := decodeMsg(t, w, &created)
	assert.True(t, m.Success)
	assert.Equal(t, "alice", created["email"])
	assert.Equal(t, "vless", created["protocol"])
	assert.NotEmpty(t, created["uuid"])

	w = f.do(t, http.MethodPost, "/v1/users/vless-in", gin.H{"email": "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/v1/users/vless-in", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	decodeMsg(t, w, &list)
	assert.Len(t, list, 1)

	w = f.do(t, http.MethodPatch, "/v1/users/vless-in/alice", gin.H{"blocked": true, "quota": 4096})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/v1/users/vless-in/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := map[string]any{}
	decodeMsg(t, w, &got)
	assert.Equal(t, true, got["blocked"])
	assert.Equal(t, float64(4096), got["quota"])

	w = f.do(t, http.MethodDelete, "/v1/users/vless-in/alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.xray.users)

	w = f.do(t, http.MethodGet, "/v1/users/vless-in/alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodPatch, "/v1/users/vless-in/alice", gin.H{"blocked": false})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodDelete, "/v1/users/vless-in/alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAccountErrors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/users/vless-in", gin.H{"email": "ab"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/users/vless-in", bytes.NewBufferString("{"))
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.xray.addErr = &xray.Error{Kind: xray.KindHandlerNotFound, Detail: "vless-in"}
	w = f.do(t, http.MethodPost, "/v1/users/vless-in", gin.H{"email": "bob"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	created := map[string]any{}
	m := decodeMsg(t, w, &created)
	assert.False(t, m.Success)
	assert.Equal(t, false, created["active"])
}

func TestStats(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/users/vless-in", gin.H{"email": "alice"}).Code)

	w := f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats []map[string]any
	decodeMsg(t, w, &stats)
	require.Len(t, stats, 1)
	assert.Equal(t, "vless-in", stats[0]["inboundTag"])
	assert.Equal(t, float64(300), stats[0]["uplink"])
	assert.Nil(t, stats[0]["downlink"])
}

func TestHealthNeedsNoKey(t *testing.T) {
	f := newAPIFixture(t)

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)

	w = httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutine(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/users/vless-in", gin.H{"email": "alice"}).Code)

	w := f.do(t, http.MethodGet, "/v1/routine", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decodeMsg(t, w, nil)
	assert.Nil(t, m.Obj)

	w = f.do(t, http.MethodPost, "/v1/routine", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	f.reconcile.Wait()

	w = f.do(t, http.MethodGet, "/v1/routine", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := service.PassSummary{}
	decodeMsg(t, w, &summary)
	assert.Equal(t, 1, summary.Total)
}

func TestRoutineConflictWhilePassRuns(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/users/vless-in", gin.H{"email": "alice"}).Code)
	f.xray.hold = make(chan struct{})

	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/routine", nil).Code)
	w := f.do(t, http.MethodPost, "/v1/routine", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, decodeMsg(t, w, nil).Success)

	close(f.xray.hold)
	f.reconcile.Wait()
	require.NotNil(t, f.reconcile.LastSummary())
	assert.Equal(t, 1, f.reconcile.LastSummary().Total)
}

func TestLogs(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/logs?count=5&level=debug", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/logs?count=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, errorStatus(service.ErrPassInProgress))
	assert.Equal(t, http.StatusBadGateway, errorStatus(&xray.Error{Kind: xray.KindUnavailable}))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(assert.AnError))
}
