package aiaccess

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/aigateway"
	"github.com/clinic/clinic/pkg/rules"
)

// FeatureAll in a grant's feature list allows every feature.
const FeatureAll = "*"

const (
	UsageSuccess = "success"
	UsageError   = "error"
)

var featurePattern = regexp.MustCompile(`^(\*|[a-z][a-z0-9_]*)$`)

// AccessGrant maps to the ai_access_grant table, one row per user.
type AccessGrant struct {
	ID              uuid.UUID `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Enabled         bool      `db:"enabled" json:"enabled"`
	Features        []string  `db:"features" json:"features"`
	DailyTokenLimit *int      `db:"daily_token_limit" json:"daily_token_limit,omitempty"`
	GrantedBy       *string   `db:"granted_by" json:"granted_by,omitempty"`
	Note            *string   `db:"note" json:"note,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (g AccessGrant) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.UserID, validation.Required, validation.Length(1, 128)),
		validation.Field(&g.Features, validation.Each(validation.Required, validation.Length(1, 64), validation.Match(featurePattern))),
		validation.Field(&g.DailyTokenLimit, validation.Min(1)),
		validation.Field(&g.Note, validation.Length(0, 500)),
	)
}

// Allows reports whether an enabled grant covers feature.
func (g *AccessGrant) Allows(feature string) bool {
	if !g.Enabled {
		return false
	}
	for _, f := range g.Features {
		if f == FeatureAll || f == feature {
			return true
		}
	}
	return false
}

// GrantRequest updates a grant; nil fields keep their current value.
type GrantRequest struct {
	Enabled         *bool    `json:"enabled,omitempty"`
	Features        []string `json:"features,omitempty"`
	DailyTokenLimit *int     `json:"daily_token_limit,omitempty"`
	ClearLimit      bool     `json:"clear_limit,omitempty"`
	Note            *string  `json:"note,omitempty"`
}

// UsageRecord maps to the ai_usage table. Rows are written for successful
// and failed calls alike.
type UsageRecord struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	Feature          string     `db:"feature" json:"feature"`
	Model            string     `db:"model" json:"model"`
	PromptTokens     int        `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int        `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int        `db:"total_tokens" json:"total_tokens"`
	PatientID        *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	Status           string     `db:"status" json:"status"`
	Error            *string    `db:"error" json:"error,omitempty"`
	LatencyMS        int64      `db:"latency_ms" json:"latency_ms"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// UsageSummary aggregates one user's usage over a period.
type UsageSummary struct {
	UserID           string `json:"user_id"`
	Requests         int    `json:"requests"`
	Errors           int    `json:"errors"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Access is what a user sees about their own grant.
type Access struct {
	Enabled         bool     `json:"enabled"`
	Features        []string `json:"features"`
	DailyTokenLimit *int     `json:"daily_token_limit,omitempty"`
	TokensUsedToday int      `json:"tokens_used_today"`
	TokensRemaining *int     `json:"tokens_remaining,omitempty"`
}

var chatRoles = []interface{}{"system", "user", "assistant"}

type ChatRequest struct {
	Feature     string              `json:"feature"`
	Messages    []aigateway.Message `json:"messages"`
	PatientID   *uuid.UUID          `json:"patient_id,omitempty"`
	Model       string              `json:"model,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
}

func (r ChatRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Feature, validation.Required, validation.Length(1, 64), validation.Match(featurePattern),
			validation.NotIn(FeatureAll)),
		validation.Field(&r.Messages, validation.Required, validation.Length(1, 100), validation.Each(validation.By(chatMessage))),
		validation.Field(&r.PatientID, rules.RequiredID),
		validation.Field(&r.Model, validation.Length(0, 100)),
		validation.Field(&r.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&r.MaxTokens, validation.Min(1)),
	)
}

func chatMessage(v interface{}) error {
	m, _ := v.(aigateway.Message)
	return validation.ValidateStruct(&m,
		validation.Field(&m.Role, validation.Required, validation.In(chatRoles...)),
		validation.Field(&m.Content, validation.Required),
	)
}

// ChatResult is the assistant reply returned to the caller.
type ChatResult struct {
	Message aigateway.Message `json:"message"`
	Model   string            `json:"model"`
	Usage   aigateway.Usage   `json:"usage"`
}
