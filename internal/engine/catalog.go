package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"briefline/internal/config"
	"briefline/internal/domain"
	"briefline/internal/engine/auth"
	"briefline/internal/errs"
	"briefline/internal/events"
	"briefline/internal/repo"
)

func (e Engine) requireAdmin(ctx context.Context, actorID string) (auth.Actor, error) {
	actor, err := e.Actor(ctx, actorID)
	if err != nil {
		return actor, err
	}
	return actor, auth.Check(actor, auth.Resource{}, auth.AdminManage).Err()
}

// deleteErr maps repo delete failures onto error kinds.
func deleteErr(err error, what, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return errs.NotFound("%s %s not found", what, id)
	case errors.Is(err, repo.ErrInUse):
		return errs.Conflict("%s %s is still referenced and cannot be deleted", what, id)
	}
	return err
}

func newID(id string) string {
	if strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	return uuid.NewString()
}

func (e Engine) CreateRegion(ctx context.Context, r domain.Region, actorID string) (domain.Region, error) {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return r, err
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return r, errs.Validation("invalid region", map[string]string{"name": "required"})
	}
	r.ID = newID(r.ID)
	r.CreatedAt = e.now()
	return r, e.Repo.InsertRegion(ctx, nil, r)
}

func (e Engine) DeleteRegion(ctx context.Context, id, actorID string) error {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return deleteErr(e.Repo.DeleteRegion(ctx, id), "region", id)
}

func (e Engine) CreateBrand(ctx context.Context, b domain.Brand, actorID string) (domain.Brand, error) {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return b, err
	}
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return b, errs.Validation("invalid brand", map[string]string{"name": "required"})
	}
	b.ID = newID(b.ID)
	b.CreatedAt = e.now()
	return b, e.Repo.InsertBrand(ctx, nil, b)
}

func (e Engine) CreateClub(ctx context.Context, c domain.Club, actorID string) (domain.Club, error) {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return c, err
	}
	fe := errs.FieldErrors{}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		fe.Add("name", "required")
	}
	if !domain.Contains(domain.Tiers, c.Tier) {
		fe.Add("tier", fmt.Sprintf("must be one of %s", strings.Join(domain.Tiers, ", ")))
	}
	if ok, err := e.Repo.BrandExists(ctx, c.BrandID); err != nil {
		return c, err
	} else if !ok {
		fe.Add("brand_id", "unknown brand")
	}
	if ok, err := e.Repo.RegionExists(ctx, c.RegionID); err != nil {
		return c, err
	} else if !ok {
		fe.Add("region_id", "unknown region")
	}
	if err := fe.Err("invalid club"); err != nil {
		return c, err
	}
	c.ID = newID(c.ID)
	c.CreatedAt = e.now()
	return c, e.Repo.InsertClub(ctx, nil, c)
}

func (e Engine) DeleteClub(ctx context.Context, id, actorID string) error {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return deleteErr(e.Repo.DeleteClub(ctx, id), "club", id)
}

// UpdateClubContext replaces a club's local context. Managers may edit their own clubs.
func (e Engine) UpdateClubContext(ctx context.Context, clubID string, lc domain.LocalContext, actorID string) (domain.Club, error) {
	actor, err := e.Actor(ctx, actorID)
	if err != nil {
		return domain.Club{}, err
	}
	if err := auth.Check(actor, auth.Resource{ClubID: clubID}, auth.ClubContext).Err(); err != nil {
		return domain.Club{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Club{}, err
	}
	defer tx.Rollback()
	club, err := e.loadClub(ctx, tx, clubID)
	if err != nil {
		return domain.Club{}, err
	}
	if err := e.Repo.UpdateClubContext(ctx, tx, clubID, lc); err != nil {
		return domain.Club{}, err
	}
	if err := e.writer().Append(ctx, tx, events.ClubContextEdited, "club", clubID, actor.ID, events.EventPayload{
		"present": lc.Present(), "was_present": club.Context.Present(),
	}); err != nil {
		return domain.Club{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Club{}, err
	}
	club.Context = lc
	return club, nil
}

func (e Engine) CreateTemplate(ctx context.Context, t domain.RequestTemplate, actorID string) (domain.RequestTemplate, error) {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return t, err
	}
	fe := errs.FieldErrors{}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		fe.Add("name", "required")
	}
	if strings.TrimSpace(t.Category) == "" {
		fe.Add("category", "required")
	}
	if t.DefaultSLADays < 1 {
		fe.Add("default_sla_days", "must be at least 1")
	}
	if t.DefaultPriority == "" {
		t.DefaultPriority = domain.PriorityMedium
	}
	if !domain.Contains(domain.Priorities, t.DefaultPriority) {
		fe.Add("default_priority", fmt.Sprintf("must be one of %s", strings.Join(domain.Priorities, ", ")))
	}
	seen := map[string]bool{}
	for i, f := range t.Fields {
		path := fmt.Sprintf("fields[%d]", i)
		switch {
		case strings.TrimSpace(f.Key) == "":
			fe.Add(path+".key", "required")
		case seen[f.Key]:
			fe.Add(path+".key", "duplicate key "+f.Key)
		}
		seen[f.Key] = true
		if !domain.Contains(domain.FieldTypes, f.Type) {
			fe.Add(path+".type", fmt.Sprintf("must be one of %s", strings.Join(domain.FieldTypes, ", ")))
		}
	}
	if err := fe.Err("invalid template"); err != nil {
		return t, err
	}
	t.ID = newID(t.ID)
	t.CreatedAt = e.now()
	return t, e.Repo.InsertTemplate(ctx, nil, t)
}

func (e Engine) DeleteTemplate(ctx context.Context, id, actorID string) error {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return deleteErr(e.Repo.DeleteTemplate(ctx, id), "template", id)
}

func (e Engine) CreateUser(ctx context.Context, u domain.User, actorID string) (domain.User, error) {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return u, err
	}
	fe := errs.FieldErrors{}
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		fe.Add("name", "required")
	}
	if !domain.Contains(domain.Roles, u.Role) {
		fe.Add("role", fmt.Sprintf("must be one of %s", strings.Join(domain.Roles, ", ")))
	}
	for i, clubID := range u.ClubIDs {
		if _, err := e.Repo.GetClub(ctx, nil, clubID); errors.Is(err, repo.ErrNotFound) {
			fe.Add(fmt.Sprintf("club_ids[%d]", i), "unknown club "+clubID)
		} else if err != nil {
			return u, err
		}
	}
	if err := fe.Err("invalid user"); err != nil {
		return u, err
	}
	u.ID = newID(u.ID)
	u.CreatedAt = e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return u, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return u, fmt.Errorf("insert user: %w", err)
	}
	return u, tx.Commit()
}

func (e Engine) DeleteUser(ctx context.Context, id, actorID string) error {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return deleteErr(e.Repo.DeleteUser(ctx, id), "user", id)
}

// ImportConfig validates and stores a brand strategy document.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config, actorID string) error {
	actor, err := e.requireAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return errs.Validation("config required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return errs.Validation("invalid config", map[string]string{"config": err.Error()})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertConfig(ctx, tx, cfg); err != nil {
		return err
	}
	brands := make([]string, 0, len(cfg.Brands))
	for id := range cfg.Brands {
		brands = append(brands, id)
	}
	if err := e.writer().Append(ctx, tx, events.ConfigImported, "config", "policy", actor.ID, events.EventPayload{
		"brands": brands, "webhooks": len(cfg.Webhooks),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListNotifications returns the actor's inbox.
func (e Engine) ListNotifications(ctx context.Context, actorID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if _, err := e.Actor(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListNotifications(ctx, actorID, unreadOnly, limit)
}

func (e Engine) MarkNotificationRead(ctx context.Context, id, actorID string) error {
	if _, err := e.Actor(ctx, actorID); err != nil {
		return err
	}
	err := e.Repo.MarkNotificationRead(ctx, actorID, id, e.now())
	if errors.Is(err, repo.ErrNotFound) {
		return errs.NotFound("notification %s not found", id)
	}
	return err
}

// ListEvents reads the audit log, newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter, actorID string) ([]domain.Event, error) {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}

// CreateAPIKey issues a key for a service user. The raw key is returned once and only its hash is kept.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name, actorID string) (string, domain.APIKey, error) {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return "", domain.APIKey{}, err
	}
	if _, err := e.Repo.GetUser(ctx, nil, userID); errors.Is(err, repo.ErrNotFound) {
		return "", domain.APIKey{}, errs.NotFound("user %s not found", userID)
	} else if err != nil {
		return "", domain.APIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	raw := "bl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

// ListClubs returns the club catalogue. Any signed-in user may read it.
func (e Engine) ListClubs(ctx context.Context, actorID string) ([]domain.Club, error) {
	if _, err := e.Actor(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListClubs(ctx)
}

func (e Engine) ListTemplates(ctx context.Context, actorID string) ([]domain.RequestTemplate, error) {
	if _, err := e.Actor(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListTemplates(ctx)
}

func (e Engine) ListRegions(ctx context.Context, actorID string) ([]domain.Region, error) {
	if _, err := e.Actor(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListRegions(ctx)
}

func (e Engine) ListBrands(ctx context.Context, actorID string) ([]domain.Brand, error) {
	if _, err := e.Actor(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListBrands(ctx)
}

// ListUsers is admin only.
func (e Engine) ListUsers(ctx context.Context, f repo.UserFilter, actorID string) ([]domain.User, error) {
	if _, err := e.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListUsers(ctx, nil, f)
}
