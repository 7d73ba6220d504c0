package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/migrate"
	"briefline/internal/repo"
)

const seedYAML = `
regions:
  - {id: north, name: North}
brands:
  - {id: harmony, name: Harmony}
clubs:
  - id: club-a
    name: Riverside
    tier: flagship
    brand: harmony
    region: north
    local_context:
      character: Family club near the river
      top_activities: [yoga, swim]
templates:
  - id: social
    name: Social post
    category: digital
    default_sla_days: 3
    fields:
      - {key: channel, type: text, required: true}
users:
  - {id: mgr, name: Manager, role: club_manager, clubs: [club-a]}
  - {id: admin, name: Admin, role: admin}
`

func newSeedRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func TestLoadFixtures(t *testing.T) {
	r := newSeedRepo(t)
	ctx := context.Background()
	fx, err := parseFixtures([]byte(seedYAML))
	require.NoError(t, err)

	counts, err := loadFixtures(ctx, r, fx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, seedCounts{Regions: 1, Brands: 1, Clubs: 1, Templates: 1, Users: 2}, counts)

	club, err := r.GetClub(ctx, nil, "club-a")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFlagship, club.Tier)
	assert.Equal(t, []string{"yoga", "swim"}, club.Context.TopActivities)

	tmpl, err := r.GetTemplate(ctx, nil, "social")
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, tmpl.DefaultPriority)
	assert.Equal(t, []string{"channel"}, tmpl.RequiredFields())

	mgr, err := r.GetUser(ctx, nil, "mgr")
	require.NoError(t, err)
	assert.Equal(t, []string{"club-a"}, mgr.ClubIDs)
}

func TestLoadFixturesIsAllOrNothing(t *testing.T) {
	r := newSeedRepo(t)
	ctx := context.Background()
	fx, err := parseFixtures([]byte(`
regions:
  - {id: north, name: North}
users:
  - {id: mgr, name: Manager, role: club_manager, clubs: [missing-club]}
`))
	require.NoError(t, err)

	_, err = loadFixtures(ctx, r, fx, time.Now().UTC())
	require.Error(t, err)
	regions, err := r.ListRegions(ctx)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestParseFixturesRejectsUnknownEnums(t *testing.T) {
	_, err := parseFixtures([]byte("users:\n  - {id: x, name: X, role: owner}\n"))
	assert.ErrorContains(t, err, "unknown role")
	_, err = parseFixtures([]byte("clubs:\n  - {id: c, name: C, tier: gold}\n"))
	assert.ErrorContains(t, err, "unknown tier")
}
