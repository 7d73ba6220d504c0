package domain

import "time"

// Roles.
const (
	RoleClubManager = "club_manager"
	RoleValidator   = "validator"
	RoleProduction  = "production"
	RoleAdmin       = "admin"
)

// Club tiers.
const (
	TierStandard = "standard"
	TierFlagship = "flagship"
	TierVIP      = "vip"
)

// Brief statuses.
const (
	BriefDraft            = "draft"
	BriefSubmitted        = "submitted"
	BriefChangesRequested = "changes_requested"
	BriefApproved         = "approved"
	BriefRejected         = "rejected"
	BriefCancelled        = "cancelled"
)

// Validator decisions share the names of the brief statuses they lead to.
const (
	DecisionApproved         = BriefApproved
	DecisionChangesRequested = BriefChangesRequested
	DecisionRejected         = BriefRejected
)

// Production task statuses.
const (
	TaskQueued       = "queued"
	TaskInProgress   = "in_progress"
	TaskInReview     = "in_review"
	TaskNeedsChanges = "needs_changes"
	TaskApproved     = "approved"
	TaskDelivered    = "delivered"
	TaskClosed       = "closed"
)

// Priorities, lowest first.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Outcome tags.
const (
	OutcomePositive = "positive"
	OutcomeNeutral  = "neutral"
	OutcomeNegative = "negative"
)

var (
	Objectives    = []string{"acquisition", "retention", "attendance", "upsell", "awareness", "other"}
	Priorities    = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	Tiers         = []string{TierStandard, TierFlagship, TierVIP}
	Roles         = []string{RoleClubManager, RoleValidator, RoleProduction, RoleAdmin}
	Decisions     = []string{DecisionApproved, DecisionChangesRequested, DecisionRejected}
	Outcomes      = []string{OutcomePositive, OutcomeNeutral, OutcomeNegative}
	TaskStatuses  = []string{TaskQueued, TaskInProgress, TaskInReview, TaskNeedsChanges, TaskApproved, TaskDelivered, TaskClosed}
	FieldTypes    = []string{"text", "number", "bool", "date", "url"}
	BriefStatuses = []string{BriefDraft, BriefSubmitted, BriefChangesRequested, BriefApproved, BriefRejected, BriefCancelled}
)

// Contains reports whether v is one of set.
func Contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// PriorityRank orders priorities; unknown values rank as medium.
func PriorityRank(p string) int {
	for i, v := range Priorities {
		if v == p {
			return i
		}
	}
	return 1
}

type Region struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Brand struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// LocalContext is the manager-maintained description of a club.
type LocalContext struct {
	Character       string   `json:"character,omitempty" yaml:"character"`
	KeyMemberGroups []string `json:"key_member_groups,omitempty" yaml:"key_member_groups"`
	Constraints     string   `json:"constraints,omitempty" yaml:"constraints"`
	TopActivities   []string `json:"top_activities,omitempty" yaml:"top_activities"`
	DecisionBrief   string   `json:"decision_brief,omitempty" yaml:"decision_brief"`
}

// Present reports whether enough context exists to judge a brief.
func (c LocalContext) Present() bool {
	return c.Character != "" || c.DecisionBrief != ""
}

type Club struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Tier      string       `json:"tier" enum:"standard,flagship,vip"`
	BrandID   string       `json:"brand_id"`
	RegionID  string       `json:"region_id"`
	Context   LocalContext `json:"local_context"`
	CreatedAt time.Time    `json:"created_at"`
}

// TemplateField is one structured field a template asks for.
type TemplateField struct {
	Key      string `json:"key" yaml:"key"`
	Label    string `json:"label,omitempty" yaml:"label"`
	Type     string `json:"type" yaml:"type" enum:"text,number,bool,date,url"`
	Required bool   `json:"required" yaml:"required"`
}

type RequestTemplate struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Fields          []TemplateField `json:"fields"`
	DefaultSLADays  int             `json:"default_sla_days"`
	DefaultPriority string          `json:"default_priority" enum:"low,medium,high,critical"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RequiredFields lists the keys of required fields in declaration order.
func (t RequestTemplate) RequiredFields() []string {
	var out []string
	for _, f := range t.Fields {
		if f.Required {
			out = append(out, f.Key)
		}
	}
	return out
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role" enum:"club_manager,validator,production,admin"`
	ClubIDs   []string  `json:"club_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Brief struct {
	ID            string         `json:"id"`
	Code          string         `json:"code"`
	Title         string         `json:"title"`
	Context       string         `json:"context"`
	Objective     string         `json:"objective" enum:"acquisition,retention,attendance,upsell,awareness,other"`
	KPI           string         `json:"kpi,omitempty"`
	KPITarget     *float64       `json:"kpi_target,omitempty"`
	Priority      string         `json:"priority" enum:"low,medium,high,critical"`
	Status        string         `json:"status" enum:"draft,submitted,changes_requested,approved,rejected,cancelled"`
	Deadline      time.Time      `json:"deadline"`
	StartDate     *time.Time     `json:"start_date,omitempty"`
	EndDate       *time.Time     `json:"end_date,omitempty"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`
	AssetLinks    []string       `json:"asset_links,omitempty"`
	EstimatedCost float64        `json:"estimated_cost"`
	Crisis        bool           `json:"crisis"`
	Outcome       string         `json:"outcome,omitempty"`
	OutcomeNote   string         `json:"outcome_note,omitempty"`
	ClubID        string         `json:"club_id"`
	BrandID       string         `json:"brand_id"`
	TemplateID    string         `json:"template_id"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	SubmittedAt   *time.Time     `json:"submitted_at,omitempty"`
}

type Approval struct {
	ID          string    `json:"id"`
	BriefID     string    `json:"brief_id"`
	ValidatorID string    `json:"validator_id"`
	Decision    string    `json:"decision" enum:"approved,changes_requested,rejected"`
	Notes       string    `json:"notes,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	SLADays     int       `json:"sla_days,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProductionTask struct {
	ID            string    `json:"id"`
	BriefID       string    `json:"brief_id"`
	Status        string    `json:"status" enum:"queued,in_progress,in_review,needs_changes,approved,delivered,closed"`
	AssigneeID    string    `json:"assignee_id,omitempty"`
	SLADays       int       `json:"sla_days"`
	DueDate       time.Time `json:"due_date"`
	Notes         string    `json:"notes,omitempty"`
	DeliveryCycle int       `json:"delivery_cycle"`
	OutcomeCycle  int       `json:"outcome_cycle"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	BriefID   string     `json:"brief_id,omitempty"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
