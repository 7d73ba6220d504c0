package brieflinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/migrate"
	"briefline/internal/server"
)

const secret = "sdk-secret"

func newAPI(t *testing.T) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default(), nil)

	ctx, r, now := context.Background(), e.Repo, time.Now().UTC()
	require.NoError(t, r.InsertRegion(ctx, nil, domain.Region{ID: "north", Name: "North", CreatedAt: now}))
	require.NoError(t, r.InsertBrand(ctx, nil, domain.Brand{ID: "harmony", Name: "Harmony", CreatedAt: now}))
	require.NoError(t, r.InsertClub(ctx, nil, domain.Club{
		ID: "club-a", Name: "Riverside", Tier: domain.TierStandard, BrandID: "harmony", RegionID: "north",
		Context: domain.LocalContext{Character: "Family club"}, CreatedAt: now,
	}))
	require.NoError(t, r.InsertTemplate(ctx, nil, domain.RequestTemplate{
		ID: "poster", Name: "Poster", Category: "print", DefaultSLADays: 5, DefaultPriority: domain.PriorityLow, CreatedAt: now,
	}))
	for _, u := range []domain.User{
		{ID: "mgr", Name: "Manager", Role: domain.RoleClubManager, ClubIDs: []string{"club-a"}},
		{ID: "val", Name: "Validator", Role: domain.RoleValidator, ClubIDs: []string{"club-a"}},
		{ID: "prod", Name: "Producer", Role: domain.RoleProduction},
	} {
		u.CreatedAt = now
		require.NoError(t, r.InsertUser(ctx, nil, u))
	}

	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func clientFor(t *testing.T, baseURL, userID string) *Client {
	t.Helper()
	token, err := server.SignToken(secret, userID, time.Hour, time.Now())
	require.NoError(t, err)
	c := New(baseURL)
	c.BearerToken = token
	return c
}

func TestClientBriefLifecycle(t *testing.T) {
	baseURL := newAPI(t)
	ctx := context.Background()
	mgr, val, prod := clientFor(t, baseURL, "mgr"), clientFor(t, baseURL, "val"), clientFor(t, baseURL, "prod")

	b, err := mgr.CreateBrief(ctx, NewBrief{
		ClubID:     "club-a",
		TemplateID: "poster",
		Title:      "Yoga open day poster",
		Context:    "Poster for the yoga wellness open day",
		Objective:  "attendance",
		Deadline:   time.Now().UTC().AddDate(0, 0, 21),
	})
	require.NoError(t, err)
	assert.Equal(t, "draft", b.Status)

	b, pol, err := mgr.SubmitBrief(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "submitted", b.Status)
	assert.Len(t, pol.Rules, 11)

	res, err := val.Decide(ctx, b.ID, Decision{Decision: "approved", SLADays: 3})
	require.NoError(t, err)
	require.NotNil(t, res.Task)
	assert.Equal(t, 3, res.Task.SLADays)

	_, err = val.Decide(ctx, b.ID, Decision{Decision: "rejected"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "state_conflict", apiErr.Code)

	queue, err := prod.Tasks(ctx, "queued", false)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	for _, status := range []string{"in_progress", "in_review", "approved", "delivered"} {
		task, err := prod.UpdateTaskStatus(ctx, queue[0].ID, status, "", "")
		require.NoError(t, err)
		assert.Equal(t, status, task.Status)
	}
	mine, err := prod.Tasks(ctx, "", true)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	tagged, err := prod.TagOutcome(ctx, b.ID, "neutral", "")
	require.NoError(t, err)
	assert.Equal(t, "neutral", tagged.Outcome)

	_, err = mgr.EventsPage(ctx, 10, "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}
