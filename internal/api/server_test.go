package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/dispatcher"
	"github.com/JakeFAU/change-monitor/internal/monitor"
	queuememory "github.com/JakeFAU/change-monitor/internal/queue/memory"
	storememory "github.com/JakeFAU/change-monitor/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("target-%d", s.n), nil
}

type failingSubmitter struct{}

func (failingSubmitter) Submit(context.Context, monitor.Target) error {
	return errors.New("queue full")
}

type fixture struct {
	store  *storememory.Store
	queue  *queuememory.Queue
	server *Server
}

func newFixture(t *testing.T, cfg Config, checks map[string]ReadinessCheck) *fixture {
	t.Helper()
	clock := fakeClock{now: time.Unix(1700000000, 0).UTC()}
	store := storememory.NewStore()
	queue := queuememory.NewQueue(10)
	t.Cleanup(queue.Close)
	handler := NewTargetHandler(store, store, dispatcher.New(queue, nil, clock), &seqIDs{}, clock, zap.NewNop())
	return &fixture{store: store, queue: queue, server: NewServer(handler, checks, cfg, zap.NewNop())}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateTargetStoresAndEnqueues(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	rec := f.do(t, http.MethodPost, "/v1/targets",
		`{"url":"https://www.linkedin.com/company/acme","type":"organization","frequency":"weekly","owner":"ops@acme.test"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	require.Equal(t, true, body["queued"])
	target := body["target"].(map[string]any)
	require.Equal(t, "target-1", target["id"])
	require.Equal(t, "weekly", target["frequency"])
	require.Equal(t, true, target["active"])

	stored, err := f.store.GetTarget(context.Background(), "target-1")
	require.NoError(t, err)
	require.Equal(t, monitor.TargetOrganization, stored.Type)
	require.Equal(t, "ops@acme.test", stored.Owner)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "target-1", job.TargetID)
	require.Equal(t, 1, job.Attempt)
}

func TestCreateTargetDefaultsToDaily(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	rec := f.do(t, http.MethodPost, "/v1/targets", `{"url":"https://acme.test/pricing","type":"website"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	stored, err := f.store.GetTarget(context.Background(), "target-1")
	require.NoError(t, err)
	require.Equal(t, monitor.FrequencyDaily, stored.Frequency)
}

func TestCreateTargetValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: `{invalid`, want: "invalid JSON"},
		{name: "missing url", body: `{"type":"website"}`, want: "url must be"},
		{name: "relative url", body: `{"url":"/pricing","type":"website"}`, want: "url must be"},
		{name: "ftp url", body: `{"url":"ftp://acme.test","type":"website"}`, want: "url must be"},
		{name: "unknown type", body: `{"url":"https://acme.test","type":"company"}`, want: "invalid type"},
		{name: "unknown frequency", body: `{"url":"https://acme.test","type":"website","frequency":"monthly"}`, want: "invalid frequency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, Config{}, nil)
			rec := f.do(t, http.MethodPost, "/v1/targets", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Zero(t, f.queue.Pending())
		})
	}
}

func TestCreateTargetSubmitFailureStillCreates(t *testing.T) {
	t.Parallel()

	clock := fakeClock{now: time.Unix(1700000000, 0)}
	store := storememory.NewStore()
	handler := NewTargetHandler(store, store, failingSubmitter{}, &seqIDs{}, clock, nil)
	server := NewServer(handler, nil, Config{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/targets", bytes.NewBufferString(`{"url":"https://acme.test","type":"website"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, false, decode(t, rec)["queued"])
	_, err := store.GetTarget(context.Background(), "target-1")
	require.NoError(t, err)
}

func TestListGetAndDeactivate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/targets", `{"url":"https://a.test","type":"website"}`).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/targets", `{"url":"https://b.test","type":"website"}`).Code)

	rec := f.do(t, http.MethodGet, "/v1/targets/target-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://a.test", decode(t, rec)["target"].(map[string]any)["url"])

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/targets/missing", "").Code)

	rec = f.do(t, http.MethodDelete, "/v1/targets/target-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/targets/missing", "").Code)

	rec = f.do(t, http.MethodGet, "/v1/targets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["targets"], 2)

	rec = f.do(t, http.MethodGet, "/v1/targets?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode(t, rec)["targets"].([]any)
	require.Len(t, active, 1)
	require.Equal(t, "target-2", active[0].(map[string]any)["id"])

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/targets?active=maybe", "").Code)

	stored, err := f.store.GetTarget(context.Background(), "target-1")
	require.NoError(t, err)
	require.False(t, stored.Active)
}

func TestListChangesPaginates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	require.NoError(t, f.store.CreateTarget(ctx, monitor.Target{ID: "t1", Active: true}))
	for i := range 3 {
		require.NoError(t, f.store.CreateChange(ctx, monitor.ChangeRecord{
			ID: fmt.Sprintf("c%d", i), TargetID: "t1", Severity: monitor.SeverityHigh, KeyChanges: []string{},
		}))
	}

	rec := f.do(t, http.MethodGet, "/v1/targets/t1/changes?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	changes := decode(t, rec)["changes"].([]any)
	require.Len(t, changes, 2)
	require.Equal(t, "c2", changes[0].(map[string]any)["id"])

	rec = f.do(t, http.MethodGet, "/v1/targets/t1/changes?offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode(t, rec)["changes"])

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/targets/t1/changes?limit=0", "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/targets/nope/changes", "").Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AuthEnabled: true, APIKey: "secret"}, nil)

	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/targets", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/targets", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/targets?api_key=secret", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	healthy := newFixture(t, Config{}, map[string]ReadinessCheck{
		"db": func(context.Context) error { return nil },
	})
	require.Equal(t, http.StatusOK, healthy.do(t, http.MethodGet, "/readyz", "").Code)

	rec := healthy.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	unhealthy := newFixture(t, Config{}, map[string]ReadinessCheck{
		"db": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = unhealthy.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/healthz", "", "X-Request-ID", "abc-123")
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := NewTargetHandler(nil, nil, nil, &seqIDs{}, fakeClock{}, nil)
	server := NewServer(handler, nil, Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/targets/t1", nil)
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { server.Handler().ServeHTTP(rec, req) })
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
