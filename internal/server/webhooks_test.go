package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/engine"
	"briefline/internal/migrate"
)

type delivery struct {
	Header http.Header
	Event  webhookEvent
}

type hookRecorder struct {
	mu   sync.Mutex
	got  []delivery
	fail bool
	seen chan struct{}
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{seen: make(chan struct{}, 64)}
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	data, _ := io.ReadAll(r.Body)
	var evt webhookEvent
	_ = json.Unmarshal(data, &evt)
	h.got = append(h.got, delivery{Header: r.Header.Clone(), Event: evt})
	h.seen <- struct{}{}
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookRecorder) deliveries() []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]delivery(nil), h.got...)
}

func (h *hookRecorder) setFail(fail bool) {
	h.mu.Lock()
	h.fail = fail
	h.mu.Unlock()
}

func newWebhookEngine(t *testing.T, hookURL string, events []string) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default(), zaptest.NewLogger(t))
	seedCatalog(t, e)
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hookURL, Events: events, Secret: "s3cret", TimeoutSeconds: 2}}
	require.NoError(t, e.ImportConfig(context.Background(), cfg, "admin"))
	return e
}

func newTestDispatcher(e engine.Engine) *WebhookDispatcher {
	d := NewWebhookDispatcher(e)
	d.Interval = 10 * time.Millisecond
	d.Client = &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	return d
}

func createBrief(t *testing.T, e engine.Engine) {
	t.Helper()
	var in BriefRequest
	raw, err := json.Marshal(briefBody())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &in))
	b, err := e.CreateBrief(context.Background(), in.input("mgr"))
	require.NoError(t, err)
	_, err = e.SubmitBrief(context.Background(), b.ID, "mgr")
	require.NoError(t, err)
}

func TestDispatcherStartsAtLatestEventAndFilters(t *testing.T) {
	rec := newHookRecorder()
	hook := httptest.NewServer(rec)
	defer hook.Close()
	e := newWebhookEngine(t, hook.URL, []string{"brief.submitted"})
	d := newTestDispatcher(e)
	ctx := context.Background()

	// The config import happened before the hook was first seen and is never sent.
	d.DispatchOnce(ctx)
	assert.Empty(t, rec.deliveries())

	createBrief(t, e)
	d.DispatchOnce(ctx)
	got := rec.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "brief.submitted", got[0].Event.Type)
	assert.Equal(t, "brief.submitted", got[0].Header.Get("X-Briefline-Event"))
	assert.Equal(t, "s3cret", got[0].Header.Get("X-Briefline-Secret"))
	assert.NotEmpty(t, got[0].Header.Get("X-Briefline-Delivery"))
	assert.Equal(t, "mgr", got[0].Event.ActorID)

	d.DispatchOnce(ctx)
	assert.Len(t, rec.deliveries(), 1)
}

func TestDispatcherRetriesFailedDelivery(t *testing.T) {
	rec := newHookRecorder()
	hook := httptest.NewServer(rec)
	defer hook.Close()
	e := newWebhookEngine(t, hook.URL, nil)
	d := newTestDispatcher(e)
	ctx := context.Background()
	d.DispatchOnce(ctx)

	rec.setFail(true)
	createBrief(t, e)
	d.DispatchOnce(ctx)
	assert.Empty(t, rec.deliveries())

	rec.setFail(false)
	d.DispatchOnce(ctx)
	got := rec.deliveries()
	require.Len(t, got, 2)
	assert.Equal(t, "brief.created", got[0].Event.Type)
	assert.Equal(t, "brief.submitted", got[1].Event.Type)
	assert.Less(t, got[0].Event.ID, got[1].Event.ID)
}

func TestDispatcherStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	rec := newHookRecorder()
	hook := httptest.NewServer(rec)
	defer hook.Close()
	e := newWebhookEngine(t, hook.URL, []string{"brief.created"})
	d := newTestDispatcher(e)
	d.DispatchOnce(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	createBrief(t, e)
	select {
	case <-rec.seen:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestEventFilter(t *testing.T) {
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{" ", ""}).match("anything"))
	f := newEventFilter([]string{"task.created", " brief.submitted "})
	assert.True(t, f.match("brief.submitted"))
	assert.False(t, f.match("brief.created"))
}
