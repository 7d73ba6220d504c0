package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	e := engine.New(conn, config.Default(), zaptest.NewLogger(t))
	seedCatalog(t, e)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, Engine: e, client: srv.Client()}
}

func seedCatalog(t *testing.T, e engine.Engine) {
	t.Helper()
	ctx, r, now := context.Background(), e.Repo, time.Now().UTC()
	require.NoError(t, r.InsertRegion(ctx, nil, domain.Region{ID: "north", Name: "North", CreatedAt: now}))
	require.NoError(t, r.InsertBrand(ctx, nil, domain.Brand{ID: "harmony", Name: "Harmony", CreatedAt: now}))
	require.NoError(t, r.InsertClub(ctx, nil, domain.Club{
		ID: "club-a", Name: "Harmony Riverside", Tier: domain.TierStandard, BrandID: "harmony", RegionID: "north",
		Context:   domain.LocalContext{Character: "Family club with a strong yoga community"},
		CreatedAt: now,
	}))
	require.NoError(t, r.InsertTemplate(ctx, nil, domain.RequestTemplate{
		ID: "social", Name: "Social campaign", Category: "social",
		Fields:         []domain.TemplateField{{Key: "channel", Type: "text", Required: true}},
		DefaultSLADays: 10, DefaultPriority: domain.PriorityMedium, CreatedAt: now,
	}))
	for _, u := range []domain.User{
		{ID: "mgr", Name: "Club Manager", Role: domain.RoleClubManager, ClubIDs: []string{"club-a"}},
		{ID: "val", Name: "Validator", Role: domain.RoleValidator, ClubIDs: []string{"club-a"}},
		{ID: "prod", Name: "Producer", Role: domain.RoleProduction},
		{ID: "admin", Name: "Owner", Role: domain.RoleAdmin},
	} {
		u.CreatedAt = now
		require.NoError(t, r.InsertUser(ctx, nil, u))
	}
}

func bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, userID, time.Hour, time.Now())
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func (s *testServer) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return s.do(t, method, path, "application/json", raw, headers)
}

// expect asserts the status and decodes the body into out when given.
func expect(t *testing.T, res *http.Response, data []byte, status int, out any) {
	t.Helper()
	require.Equal(t, status, res.StatusCode, "body: %s", string(data))
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), "body: %s", string(data))
	return env.Error.Code
}

func briefBody() map[string]any {
	return map[string]any{
		"club_id":       "club-a",
		"template_id":   "social",
		"title":         "Spring yoga week",
		"context":       "Yoga retention campaign for loyal members",
		"objective":     "retention",
		"kpi":           "renewals",
		"kpi_target":    120,
		"deadline":      time.Now().UTC().AddDate(0, 0, 30).Format(time.RFC3339),
		"custom_fields": map[string]any{"channel": "email"},
	}
}

func (s *testServer) submittedBrief(t *testing.T) domain.Brief {
	t.Helper()
	var b domain.Brief
	res, data := s.doJSON(t, http.MethodPost, "/v1/briefs", briefBody(), bearer(t, "mgr"))
	expect(t, res, data, http.StatusCreated, &b)
	var submitted engine.SubmitResult
	res, data = s.doJSON(t, http.MethodPost, "/v1/briefs/"+b.ID+"/submit", nil, bearer(t, "mgr"))
	expect(t, res, data, http.StatusOK, &submitted)
	require.Equal(t, domain.BriefSubmitted, submitted.Brief.Status)
	return submitted.Brief
}

func TestPublicRoutesAndAuthentication(t *testing.T) {
	s := newTestServer(t)

	res, data := s.doJSON(t, http.MethodGet, "/health", nil, nil)
	expect(t, res, data, http.StatusOK, nil)
	res, data = s.doJSON(t, http.MethodGet, "/metrics", nil, nil)
	expect(t, res, data, http.StatusOK, nil)
	assert.Contains(t, string(data), "go_goroutines")

	res, data = s.doJSON(t, http.MethodGet, "/v1/me", nil, nil)
	expect(t, res, data, http.StatusUnauthorized, nil)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = s.doJSON(t, http.MethodGet, "/v1/me", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	expect(t, res, data, http.StatusUnauthorized, nil)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	forged, err := SignToken("other-secret", "admin", time.Hour, time.Now())
	require.NoError(t, err)
	res, data = s.doJSON(t, http.MethodGet, "/v1/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	expect(t, res, data, http.StatusUnauthorized, nil)

	// A valid token for a user that does not exist is still unauthorized.
	res, data = s.doJSON(t, http.MethodGet, "/v1/me", nil, bearer(t, "ghost"))
	expect(t, res, data, http.StatusUnauthorized, nil)

	var me domain.User
	res, data = s.doJSON(t, http.MethodGet, "/v1/me", nil, bearer(t, "val"))
	expect(t, res, data, http.StatusOK, &me)
	assert.Equal(t, domain.RoleValidator, me.Role)
	assert.Equal(t, []string{"club-a"}, me.ClubIDs)
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	b := s.submittedBrief(t)
	assert.Regexp(t, `^BR-\d{4}-0001$`, b.Code)

	var result engine.DecisionResult
	res, data := s.doJSON(t, http.MethodPost, "/v1/briefs/"+b.ID+"/decision", map[string]any{
		"decision": "approved",
		"notes":    "looks good",
	}, bearer(t, "val"))
	expect(t, res, data, http.StatusOK, &result)
	require.NotNil(t, result.Task)
	assert.Equal(t, domain.BriefApproved, result.Brief.Status)
	assert.Equal(t, domain.TaskQueued, result.Task.Status)
	assert.Equal(t, "val", result.Approval.ValidatorID)

	res, data = s.doJSON(t, http.MethodPost, "/v1/briefs/"+b.ID+"/decision", map[string]any{"decision": "approved"}, bearer(t, "val"))
	expect(t, res, data, http.StatusConflict, nil)
	assert.Equal(t, "state_conflict", errorCode(t, data))

	var approvals []domain.Approval
	res, data = s.doJSON(t, http.MethodGet, "/v1/briefs/"+b.ID+"/approvals", nil, bearer(t, "mgr"))
	expect(t, res, data, http.StatusOK, &approvals)
	assert.Len(t, approvals, 1)

	var view TransitionsResponse
	res, data = s.doJSON(t, http.MethodGet, "/v1/tasks/"+result.Task.ID, nil, bearer(t, "prod"))
	expect(t, res, data, http.StatusOK, &view)
	assert.Equal(t, []string{domain.TaskInProgress}, view.Allowed)

	for _, status := range []string{"in_progress", "in_review", "approved", "delivered"} {
		var task domain.ProductionTask
		res, data = s.doJSON(t, http.MethodPatch, "/v1/tasks/"+result.Task.ID+"/status", map[string]any{"status": status}, bearer(t, "prod"))
		expect(t, res, data, http.StatusOK, &task)
		assert.Equal(t, status, task.Status)
		assert.Equal(t, "prod", task.AssigneeID)
	}

	var tagged domain.Brief
	res, data = s.doJSON(t, http.MethodPost, "/v1/briefs/"+b.ID+"/outcome", map[string]any{
		"outcome": "positive", "outcome_note": "renewals up",
	}, bearer(t, "prod"))
	expect(t, res, data, http.StatusOK, &tagged)
	assert.Equal(t, domain.OutcomePositive, tagged.Outcome)

	res, data = s.doJSON(t, http.MethodPost, "/v1/briefs/"+b.ID+"/outcome", map[string]any{"outcome": "neutral"}, bearer(t, "prod"))
	expect(t, res, data, http.StatusConflict, nil)

	var inbox []domain.Notification
	res, data = s.doJSON(t, http.MethodGet, "/v1/me/notifications?unread=true", nil, bearer(t, "mgr"))
	expect(t, res, data, http.StatusOK, &inbox)
	require.NotEmpty(t, inbox)
	res, data = s.doJSON(t, http.MethodPost, "/v1/me/notifications/"+inbox[0].ID+"/read", nil, bearer(t, "mgr"))
	expect(t, res, data, http.StatusNoContent, nil)
	res, data = s.doJSON(t, http.MethodPost, "/v1/me/notifications/"+inbox[0].ID+"/read", nil, bearer(t, "val"))
	expect(t, res, data, http.StatusNotFound, nil)
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	s := newTestServer(t)
	b := s.submittedBrief(t)

	res, data := s.doJSON(t, http.MethodPost, "/v1/briefs/"+b.ID+"/decision", map[string]any{"decision": "approved"}, bearer(t, "mgr"))
	expect(t, res, data, http.StatusForbidden, nil)
	assert.Equal(t, "forbidden", errorCode(t, data))

	res, data = s.doJSON(t, http.MethodGet, "/v1/briefs/missing", nil, bearer(t, "mgr"))
	expect(t, res, data, http.StatusNotFound, nil)
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = s.doJSON(t, http.MethodPost, "/v1/briefs/"+b.ID+"/decision", map[string]any{"decision": "maybe"}, bearer(t, "val"))
	expect(t, res, data, http.StatusBadRequest, nil)
	assert.Equal(t, "bad_request", errorCode(t, data))

	res, data = s.doJSON(t, http.MethodPatch, "/v1/briefs/"+b.ID, map[string]any{"title": "Too late"}, bearer(t, "mgr"))
	expect(t, res, data, http.StatusConflict, nil)

	var result engine.DecisionResult
	res, data = s.doJSON(t, http.MethodPost, "/v1/briefs/"+b.ID+"/decision", map[string]any{"decision": "approved"}, bearer(t, "val"))
	expect(t, res, data, http.StatusOK, &result)

	res, data = s.doJSON(t, http.MethodPatch, "/v1/tasks/"+result.Task.ID+"/status", map[string]any{"status": "delivered"}, bearer(t, "prod"))
	expect(t, res, data, http.StatusUnprocessableEntity, nil)
	assert.Equal(t, "validation_failed", errorCode(t, data))

	res, data = s.doJSON(t, http.MethodDelete, "/v1/clubs/club-a", nil, bearer(t, "admin"))
	expect(t, res, data, http.StatusConflict, nil)
}

func TestDraftPolicyCheck(t *testing.T) {
	s := newTestServer(t)
	var res1 struct {
		Rules             []map[string]any `json:"rules"`
		AutoRejectReasons []string         `json:"auto_reject_reasons"`
	}
	res, data := s.doJSON(t, http.MethodPost, "/v1/policy/check", map[string]any{
		"club_id":     "club-a",
		"template_id": "social",
		"title":       "Miracle bootcamp",
		"context":     "guaranteed results in a week",
		"deadline":    time.Now().UTC().AddDate(0, 0, 30).Format(time.RFC3339),
	}, bearer(t, "mgr"))
	expect(t, res, data, http.StatusOK, &res1)
	assert.Len(t, res1.Rules, 11)
	assert.NotEmpty(t, res1.AutoRejectReasons)
}

func TestAPIKeyAuthentication(t *testing.T) {
	s := newTestServer(t)

	res, data := s.doJSON(t, http.MethodPost, "/v1/users/prod/api-keys", map[string]any{"name": "render farm"}, bearer(t, "mgr"))
	expect(t, res, data, http.StatusForbidden, nil)

	var key APIKeyResponse
	res, data = s.doJSON(t, http.MethodPost, "/v1/users/prod/api-keys", map[string]any{"name": "render farm"}, bearer(t, "admin"))
	expect(t, res, data, http.StatusCreated, &key)
	require.True(t, strings.HasPrefix(key.Key, "bl_"))

	var me domain.User
	res, data = s.doJSON(t, http.MethodGet, "/v1/me", nil, map[string]string{"X-Api-Key": key.Key})
	expect(t, res, data, http.StatusOK, &me)
	assert.Equal(t, "prod", me.ID)

	res, data = s.doJSON(t, http.MethodGet, "/v1/me", nil, map[string]string{"X-Api-Key": "bl_wrong"})
	expect(t, res, data, http.StatusUnauthorized, nil)
}

func TestCatalogAdministration(t *testing.T) {
	s := newTestServer(t)
	admin := bearer(t, "admin")

	var club domain.Club
	res, data := s.doJSON(t, http.MethodPost, "/v1/clubs", map[string]any{
		"id": "club-c", "name": "Harmony Heights", "tier": "vip", "brand_id": "harmony", "region_id": "north",
	}, admin)
	expect(t, res, data, http.StatusCreated, &club)
	assert.False(t, club.Context.Present())

	res, data = s.doJSON(t, http.MethodPost, "/v1/clubs", map[string]any{
		"name": "Nowhere", "tier": "standard", "brand_id": "missing", "region_id": "north",
	}, admin)
	expect(t, res, data, http.StatusUnprocessableEntity, nil)

	res, data = s.doJSON(t, http.MethodPatch, "/v1/clubs/club-c/context", map[string]any{"character": "Premium rooftop club"}, bearer(t, "mgr"))
	expect(t, res, data, http.StatusForbidden, nil)
	res, data = s.doJSON(t, http.MethodPatch, "/v1/clubs/club-c/context", map[string]any{"character": "Premium rooftop club"}, admin)
	expect(t, res, data, http.StatusOK, &club)
	assert.True(t, club.Context.Present())

	var clubs []domain.Club
	res, data = s.doJSON(t, http.MethodGet, "/v1/clubs", nil, bearer(t, "mgr"))
	expect(t, res, data, http.StatusOK, &clubs)
	assert.Len(t, clubs, 2)

	res, data = s.doJSON(t, http.MethodDelete, "/v1/clubs/club-c", nil, admin)
	expect(t, res, data, http.StatusNoContent, nil)
	res, data = s.doJSON(t, http.MethodDelete, "/v1/clubs/club-c", nil, admin)
	expect(t, res, data, http.StatusNotFound, nil)

	var page paginatedEvents
	res, data = s.doJSON(t, http.MethodGet, "/v1/events?entity_kind=club&limit=1", nil, admin)
	expect(t, res, data, http.StatusOK, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "club.context_updated", page.Items[0].Type)

	res, data = s.doJSON(t, http.MethodGet, "/v1/events", nil, bearer(t, "val"))
	expect(t, res, data, http.StatusForbidden, nil)
}

func TestConfigReplace(t *testing.T) {
	s := newTestServer(t)
	doc := []byte(config.DefaultYAML() + "\nwebhooks:\n  - url: http://hooks.example/briefline\n    secret: s3cret\n")

	res, data := s.do(t, http.MethodPut, "/v1/config", "application/yaml", doc, bearer(t, "mgr"))
	expect(t, res, data, http.StatusForbidden, nil)

	res, data = s.do(t, http.MethodPut, "/v1/config", "application/yaml", []byte("brands: [unterminated"), bearer(t, "admin"))
	expect(t, res, data, http.StatusUnprocessableEntity, nil)

	res, data = s.do(t, http.MethodPut, "/v1/config", "application/yaml", doc, bearer(t, "admin"))
	expect(t, res, data, http.StatusOK, nil)

	var cfg config.Config
	res, data = s.doJSON(t, http.MethodGet, "/v1/config", nil, bearer(t, "val"))
	expect(t, res, data, http.StatusOK, &cfg)
	require.Len(t, cfg.Webhooks, 1)
	assert.NotEqual(t, "s3cret", cfg.Webhooks[0].Secret)
	assert.Contains(t, cfg.Brands, "harmony")
}

func TestOpenAPIDocument(t *testing.T) {
	s := newTestServer(t)
	res, data := s.doJSON(t, http.MethodGet, "/v1/openapi.json", nil, nil)
	expect(t, res, data, http.StatusOK, nil)
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Paths, "/v1/briefs/{id}/decision")
	assert.Contains(t, doc.Paths, "/v1/tasks/{id}/status")
}
