package server

import (
	"encoding/json"
	"time"

	"briefline/internal/config"
	"briefline/internal/domain"
	"briefline/internal/engine"
)

// Request payloads

type BriefRequest struct {
	ClubID        string         `json:"club_id"`
	TemplateID    string         `json:"template_id"`
	Title         string         `json:"title"`
	Context       string         `json:"context"`
	Objective     string         `json:"objective" enum:"acquisition,retention,attendance,upsell,awareness,other"`
	KPI           string         `json:"kpi,omitempty"`
	KPITarget     *float64       `json:"kpi_target,omitempty"`
	Priority      string         `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Deadline      time.Time      `json:"deadline"`
	StartDate     *time.Time     `json:"start_date,omitempty"`
	EndDate       *time.Time     `json:"end_date,omitempty"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`
	AssetLinks    []string       `json:"asset_links,omitempty"`
	EstimatedCost float64        `json:"estimated_cost,omitempty" minimum:"0"`
	Crisis        bool           `json:"crisis,omitempty"`
}

func (r BriefRequest) input(actorID string) engine.BriefInput {
	return engine.BriefInput{
		ClubID:        r.ClubID,
		TemplateID:    r.TemplateID,
		Title:         r.Title,
		Context:       r.Context,
		Objective:     r.Objective,
		KPI:           r.KPI,
		KPITarget:     r.KPITarget,
		Priority:      r.Priority,
		Deadline:      r.Deadline,
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		CustomFields:  r.CustomFields,
		AssetLinks:    r.AssetLinks,
		EstimatedCost: r.EstimatedCost,
		Crisis:        r.Crisis,
		ActorID:       actorID,
	}
}

// DraftRequest is brief content still being written; only the club and template are needed.
type DraftRequest struct {
	ClubID        string         `json:"club_id"`
	TemplateID    string         `json:"template_id"`
	Title         string         `json:"title,omitempty"`
	Context       string         `json:"context,omitempty"`
	Objective     string         `json:"objective,omitempty"`
	KPITarget     *float64       `json:"kpi_target,omitempty"`
	Deadline      time.Time      `json:"deadline,omitempty"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`
	EstimatedCost float64        `json:"estimated_cost,omitempty"`
	Crisis        bool           `json:"crisis,omitempty"`
}

func (r DraftRequest) input(actorID string) engine.BriefInput {
	return engine.BriefInput{
		ClubID:        r.ClubID,
		TemplateID:    r.TemplateID,
		Title:         r.Title,
		Context:       r.Context,
		Objective:     r.Objective,
		KPITarget:     r.KPITarget,
		Deadline:      r.Deadline,
		CustomFields:  r.CustomFields,
		EstimatedCost: r.EstimatedCost,
		Crisis:        r.Crisis,
		ActorID:       actorID,
	}
}

type UpdateBriefRequest struct {
	Title         *string        `json:"title,omitempty"`
	Context       *string        `json:"context,omitempty"`
	Objective     *string        `json:"objective,omitempty" enum:"acquisition,retention,attendance,upsell,awareness,other"`
	KPI           *string        `json:"kpi,omitempty"`
	KPITarget     *float64       `json:"kpi_target,omitempty"`
	Priority      *string        `json:"priority,omitempty" enum:"low,medium,high,critical"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	StartDate     *time.Time     `json:"start_date,omitempty"`
	EndDate       *time.Time     `json:"end_date,omitempty"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`
	AssetLinks    []string       `json:"asset_links,omitempty"`
	EstimatedCost *float64       `json:"estimated_cost,omitempty" minimum:"0"`
	Crisis        *bool          `json:"crisis,omitempty"`
}

func (r UpdateBriefRequest) patch(briefID, actorID string) engine.BriefPatch {
	return engine.BriefPatch{
		BriefID:       briefID,
		Title:         r.Title,
		Context:       r.Context,
		Objective:     r.Objective,
		KPI:           r.KPI,
		KPITarget:     r.KPITarget,
		Priority:      r.Priority,
		Deadline:      r.Deadline,
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		CustomFields:  r.CustomFields,
		AssetLinks:    r.AssetLinks,
		EstimatedCost: r.EstimatedCost,
		Crisis:        r.Crisis,
		ActorID:       actorID,
	}
}

type DecisionRequest struct {
	Decision string `json:"decision" enum:"approved,changes_requested,rejected"`
	Notes    string `json:"notes,omitempty"`
	Priority string `json:"priority,omitempty" enum:"low,medium,high,critical"`
	SLADays  int    `json:"sla_days,omitempty" minimum:"1"`
}

type TaskStatusRequest struct {
	Status     string `json:"status" enum:"queued,in_progress,in_review,needs_changes,approved,delivered,closed"`
	Notes      string `json:"notes,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`
}

type OutcomeRequest struct {
	Outcome     string `json:"outcome" enum:"positive,neutral,negative"`
	OutcomeNote string `json:"outcome_note,omitempty"`
}

type CreateRegionRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type CreateBrandRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type CreateClubRequest struct {
	ID           string               `json:"id,omitempty"`
	Name         string               `json:"name"`
	Tier         string               `json:"tier" enum:"standard,flagship,vip"`
	BrandID      string               `json:"brand_id"`
	RegionID     string               `json:"region_id"`
	LocalContext *domain.LocalContext `json:"local_context,omitempty"`
}

type CreateTemplateRequest struct {
	ID              string                 `json:"id,omitempty"`
	Name            string                 `json:"name"`
	Category        string                 `json:"category"`
	Fields          []domain.TemplateField `json:"fields,omitempty"`
	DefaultSLADays  int                    `json:"default_sla_days"`
	DefaultPriority string                 `json:"default_priority,omitempty" enum:"low,medium,high,critical"`
}

type CreateUserRequest struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	Email   string   `json:"email,omitempty"`
	Role    string   `json:"role" enum:"club_manager,validator,production,admin"`
	ClubIDs []string `json:"club_ids,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type TransitionsResponse struct {
	Task    domain.ProductionTask `json:"task"`
	Allowed []string              `json:"allowed"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// redactConfig hides webhook secrets before a config leaves the server.
func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.Webhooks = make([]config.WebhookConfig, len(cfg.Webhooks))
	for i, hook := range cfg.Webhooks {
		if hook.Secret != "" {
			hook.Secret = "********"
		}
		out.Webhooks[i] = hook
	}
	return &out
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
