// Package engine applies briefline's workflow transitions. Every mutation runs in one
// transaction that carries the status guard, derived rows, notifications and audit events.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"briefline/internal/alignment"
	"briefline/internal/config"
	"briefline/internal/domain"
	"briefline/internal/engine/auth"
	"briefline/internal/errs"
	"briefline/internal/events"
	"briefline/internal/metrics"
	"briefline/internal/policy"
	"briefline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// New wires an engine over db. cfg is the fallback used until a configuration is stored.
func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{},
		Config:  cfg,
		Log:     log,
		Metrics: metrics.Default(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) metrics() *metrics.Metrics {
	if e.Metrics == nil {
		return metrics.Default()
	}
	return e.Metrics
}

// writer stamps events with the engine clock.
func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// LoadConfig returns the stored configuration, or the engine fallback when none is stored yet.
func (e Engine) LoadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := e.Repo.GetConfig(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		if e.Config != nil {
			return e.Config, nil
		}
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Actor resolves a user id to an authenticated actor.
func (e Engine) Actor(ctx context.Context, userID string) (auth.Actor, error) {
	if userID == "" {
		return auth.Actor{}, errs.Unauthorized("identity required")
	}
	u, err := e.Repo.GetUser(ctx, nil, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return auth.Actor{}, errs.Unauthorized(fmt.Sprintf("unknown user %s", userID))
	}
	if err != nil {
		return auth.Actor{}, err
	}
	return auth.ActorFromUser(u), nil
}

// Me returns the stored user behind userID.
func (e Engine) Me(ctx context.Context, userID string) (domain.User, error) {
	if _, err := e.Actor(ctx, userID); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, nil, userID)
}

func (e Engine) loadBrief(ctx context.Context, tx *sql.Tx, id string) (domain.Brief, error) {
	b, err := e.Repo.GetBrief(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return b, errs.NotFound("brief %s not found", id)
	}
	return b, err
}

func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, id string) (domain.ProductionTask, error) {
	t, err := e.Repo.GetTask(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, errs.NotFound("task %s not found", id)
	}
	return t, err
}

func (e Engine) loadClub(ctx context.Context, tx *sql.Tx, id string) (domain.Club, error) {
	c, err := e.Repo.GetClub(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return c, errs.NotFound("club %s not found", id)
	}
	return c, err
}

func (e Engine) loadTemplate(ctx context.Context, tx *sql.Tx, id string) (domain.RequestTemplate, error) {
	t, err := e.Repo.GetTemplate(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, errs.NotFound("template %s not found", id)
	}
	return t, err
}

// evaluate runs the policy engine for a stored or draft brief.
func (e Engine) evaluate(ctx context.Context, b domain.Brief, club domain.Club, tmpl domain.RequestTemplate) (policy.Result, error) {
	cfg, err := e.LoadConfig(ctx)
	if err != nil {
		return policy.Result{}, err
	}
	res := policy.Engine{Config: cfg}.Check(snapshot(b, club, tmpl, e.now()))
	e.metrics().PolicyChecksTotal.WithLabelValues(fmt.Sprint(res.CanAutoApprove)).Inc()
	return res, nil
}

func snapshot(b domain.Brief, club domain.Club, tmpl domain.RequestTemplate, now time.Time) policy.Snapshot {
	return policy.Snapshot{
		BriefID:                b.ID,
		BrandID:                club.BrandID,
		Title:                  b.Title,
		Context:                b.Context,
		Objective:              b.Objective,
		KPITarget:              b.KPITarget,
		CustomFields:           b.CustomFields,
		ClubTier:               club.Tier,
		ClubHasContext:         club.Context.Present(),
		EstimatedCost:          b.EstimatedCost,
		Crisis:                 b.Crisis,
		TemplateCategory:       tmpl.Category,
		TemplateRequiredFields: tmpl.RequiredFields(),
		TemplateSLADays:        tmpl.DefaultSLADays,
		TemplatePriority:       tmpl.DefaultPriority,
		Deadline:               b.Deadline,
		Now:                    now,
	}
}

func (e Engine) score(ctx context.Context, b domain.Brief) (alignment.Result, error) {
	cfg, err := e.LoadConfig(ctx)
	if err != nil {
		return alignment.Result{}, err
	}
	return alignment.Scorer{Config: cfg}.Score(b.BrandID, b.Title, b.Context), nil
}

// notify inserts one notification per distinct recipient.
func (e Engine) notify(ctx context.Context, tx *sql.Tx, userIDs []string, kind, briefID, msg string) error {
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		n := domain.Notification{
			ID:        uuid.NewString(),
			UserID:    id,
			Kind:      kind,
			BriefID:   briefID,
			Message:   msg,
			CreatedAt: e.now(),
		}
		if err := e.Repo.InsertNotification(ctx, tx, n); err != nil {
			return fmt.Errorf("notify %s: %w", id, err)
		}
	}
	return nil
}

// conflict records a lost status guard and returns the matching error.
func (e Engine) conflict(entity, format string, args ...any) error {
	e.metrics().StateConflictsTotal.WithLabelValues(entity).Inc()
	return errs.Conflict(format, args...)
}

// Notification kinds.
const (
	NotifyBriefSubmitted   = "brief_submitted"
	NotifyBriefApproved    = "brief_approved"
	NotifyTaskCreated      = "task_created"
	NotifyChangesRequested = "changes_requested"
	NotifyBriefRejected    = "brief_rejected"
	NotifyTaskDelivered    = "task_delivered"
)
