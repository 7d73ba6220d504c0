package main

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"briefline/internal/domain"
	"briefline/internal/repo"
)

// fixtures is the seed file layout. Rows are inserted in dependency order.
type fixtures struct {
	Regions []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"regions"`
	Brands []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"brands"`
	Clubs []struct {
		ID       string              `yaml:"id"`
		Name     string              `yaml:"name"`
		Tier     string              `yaml:"tier"`
		BrandID  string              `yaml:"brand"`
		RegionID string              `yaml:"region"`
		Context  domain.LocalContext `yaml:"local_context"`
	} `yaml:"clubs"`
	Templates []struct {
		ID              string                 `yaml:"id"`
		Name            string                 `yaml:"name"`
		Category        string                 `yaml:"category"`
		Fields          []domain.TemplateField `yaml:"fields"`
		DefaultSLADays  int                    `yaml:"default_sla_days"`
		DefaultPriority string                 `yaml:"default_priority"`
	} `yaml:"templates"`
	Users []struct {
		ID      string   `yaml:"id"`
		Name    string   `yaml:"name"`
		Email   string   `yaml:"email"`
		Role    string   `yaml:"role"`
		ClubIDs []string `yaml:"clubs"`
	} `yaml:"users"`
}

type seedCounts struct {
	Regions   int `json:"regions"`
	Brands    int `json:"brands"`
	Clubs     int `json:"clubs"`
	Templates int `json:"templates"`
	Users     int `json:"users"`
}

func parseFixtures(data []byte) (fixtures, error) {
	var fx fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fx, fmt.Errorf("parse seed: %w", err)
	}
	for _, c := range fx.Clubs {
		if c.Tier != "" && !domain.Contains(domain.Tiers, c.Tier) {
			return fx, fmt.Errorf("club %s: unknown tier %q", c.ID, c.Tier)
		}
	}
	for _, t := range fx.Templates {
		if t.DefaultPriority != "" && !domain.Contains(domain.Priorities, t.DefaultPriority) {
			return fx, fmt.Errorf("template %s: unknown priority %q", t.ID, t.DefaultPriority)
		}
	}
	for _, u := range fx.Users {
		if !domain.Contains(domain.Roles, u.Role) {
			return fx, fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
	}
	return fx, nil
}

// loadFixtures inserts every row in one transaction; any failure leaves the DB untouched.
func loadFixtures(ctx context.Context, r repo.Repo, fx fixtures, now time.Time) (seedCounts, error) {
	var counts seedCounts
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return counts, err
	}
	defer tx.Rollback()

	for _, reg := range fx.Regions {
		if err := r.InsertRegion(ctx, tx, domain.Region{ID: reg.ID, Name: reg.Name, CreatedAt: now}); err != nil {
			return counts, fmt.Errorf("region %s: %w", reg.ID, err)
		}
		counts.Regions++
	}
	for _, b := range fx.Brands {
		if err := r.InsertBrand(ctx, tx, domain.Brand{ID: b.ID, Name: b.Name, CreatedAt: now}); err != nil {
			return counts, fmt.Errorf("brand %s: %w", b.ID, err)
		}
		counts.Brands++
	}
	for _, c := range fx.Clubs {
		tier := c.Tier
		if tier == "" {
			tier = domain.TierStandard
		}
		club := domain.Club{ID: c.ID, Name: c.Name, Tier: tier, BrandID: c.BrandID, RegionID: c.RegionID, Context: c.Context, CreatedAt: now}
		if err := r.InsertClub(ctx, tx, club); err != nil {
			return counts, fmt.Errorf("club %s: %w", c.ID, err)
		}
		counts.Clubs++
	}
	for _, t := range fx.Templates {
		tmpl := domain.RequestTemplate{
			ID:              t.ID,
			Name:            t.Name,
			Category:        t.Category,
			Fields:          t.Fields,
			DefaultSLADays:  t.DefaultSLADays,
			DefaultPriority: t.DefaultPriority,
			CreatedAt:       now,
		}
		if tmpl.DefaultPriority == "" {
			tmpl.DefaultPriority = domain.PriorityMedium
		}
		if err := r.InsertTemplate(ctx, tx, tmpl); err != nil {
			return counts, fmt.Errorf("template %s: %w", t.ID, err)
		}
		counts.Templates++
	}
	for _, u := range fx.Users {
		user := domain.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, ClubIDs: u.ClubIDs, CreatedAt: now}
		if err := r.InsertUser(ctx, tx, user); err != nil {
			return counts, fmt.Errorf("user %s: %w", u.ID, err)
		}
		counts.Users++
	}
	if err := tx.Commit(); err != nil {
		return counts, err
	}
	return counts, nil
}
