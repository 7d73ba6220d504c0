package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"briefline/internal/domain"
	"briefline/internal/errs"
)

var (
	manager    = Actor{ID: "mgr", Role: domain.RoleClubManager, ClubIDs: []string{"club-a"}}
	validator  = Actor{ID: "val", Role: domain.RoleValidator, ClubIDs: []string{"club-a"}}
	outsider   = Actor{ID: "val-b", Role: domain.RoleValidator, ClubIDs: []string{"club-b"}}
	production = Actor{ID: "prod", Role: domain.RoleProduction}
	admin      = Actor{ID: "root", Role: domain.RoleAdmin}
)

func TestCheck(t *testing.T) {
	clubA := Resource{ClubID: "club-a", OwnerID: "mgr"}
	cases := []struct {
		name   string
		actor  Actor
		res    Resource
		action Action
		want   bool
	}{
		{"manager creates in own club", manager, clubA, BriefCreate, true},
		{"manager outside club", manager, Resource{ClubID: "club-b"}, BriefCreate, false},
		{"validator cannot create", validator, clubA, BriefCreate, false},
		{"admin creates anywhere", admin, Resource{ClubID: "club-z"}, BriefCreate, true},
		{"creator edits", manager, clubA, BriefEdit, true},
		{"other user cannot submit", validator, clubA, BriefSubmit, false},
		{"admin cancels", admin, clubA, BriefCancel, true},
		{"validator decides own club", validator, clubA, BriefDecide, true},
		{"validator without club access", outsider, clubA, BriefDecide, false},
		{"manager cannot decide", manager, clubA, BriefDecide, false},
		{"admin decides", admin, clubA, BriefDecide, true},
		{"production reads any brief", production, clubA, BriefRead, true},
		{"outsider cannot read", outsider, clubA, BriefRead, false},
		{"production claims unassigned task", production, Resource{}, TaskProgress, true},
		{"production on own task", production, Resource{AssigneeID: "prod"}, TaskProgress, true},
		{"production on someone else's task", production, Resource{AssigneeID: "other"}, TaskProgress, false},
		{"admin cannot progress tasks", admin, Resource{}, TaskProgress, false},
		{"admin tags outcome", admin, Resource{}, TaskOutcome, true},
		{"validator cannot tag outcome", validator, Resource{}, TaskOutcome, false},
		{"manager edits own club context", manager, Resource{ClubID: "club-a"}, ClubContext, true},
		{"validator cannot edit context", validator, Resource{ClubID: "club-a"}, ClubContext, false},
		{"manager is not admin", manager, Resource{}, AdminManage, false},
		{"no identity", Actor{Role: domain.RoleAdmin}, Resource{}, AdminManage, false},
		{"unknown action", admin, Resource{}, Action("brief.delete"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Check(tc.actor, tc.res, tc.action)
			assert.Equal(t, tc.want, d.Allowed, d.Reason)
			if !tc.want {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestDecisionErr(t *testing.T) {
	assert.NoError(t, Check(admin, Resource{}, AdminManage).Err())
	err := Check(manager, Resource{}, AdminManage).Err()
	assert.True(t, errs.Is(err, errs.KindForbidden))
	assert.Contains(t, err.Error(), "admin role required")
}
