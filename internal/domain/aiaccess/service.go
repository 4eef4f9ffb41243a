package aiaccess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/aigateway"
)

// Recorder counts proxied AI requests. *metrics.Metrics implements it.
type Recorder interface {
	AIRequest(feature, status string, tokens int)
}

type nopRecorder struct{}

func (nopRecorder) AIRequest(string, string, int) {}

type Service struct {
	grants    GrantRepository
	usage     UsageRepository
	completer aigateway.Completer
	recorder  Recorder
	now       func() time.Time
}

func NewService(grants GrantRepository, usage UsageRepository, completer aigateway.Completer) *Service {
	return &Service{
		grants:    grants,
		usage:     usage,
		completer: completer,
		recorder:  nopRecorder{},
		now:       time.Now,
	}
}

func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// -- Grants --

// UpsertGrant creates or updates the grant of userID. A new grant is
// enabled unless req says otherwise.
func (s *Service) UpsertGrant(ctx context.Context, userID string, req GrantRequest, grantedBy string) (*AccessGrant, error) {
	g, err := s.grants.GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		g = &AccessGrant{UserID: userID, Enabled: true, Features: []string{}}
	case err != nil:
		return nil, err
	}

	if req.Enabled != nil {
		g.Enabled = *req.Enabled
	}
	if req.Features != nil {
		g.Features = normalizeFeatures(req.Features)
	}
	if req.ClearLimit {
		g.DailyTokenLimit = nil
	} else if req.DailyTokenLimit != nil {
		g.DailyTokenLimit = req.DailyTokenLimit
	}
	if req.Note != nil {
		note := strings.TrimSpace(*req.Note)
		g.Note = &note
	}
	if grantedBy != "" {
		g.GrantedBy = &grantedBy
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := s.grants.Upsert(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func normalizeFeatures(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// RevokeGrant disables the grant of userID and keeps its history.
func (s *Service) RevokeGrant(ctx context.Context, userID, revokedBy string) (*AccessGrant, error) {
	disabled := false
	if _, err := s.grants.GetByUserID(ctx, userID); err != nil {
		return nil, err
	}
	return s.UpsertGrant(ctx, userID, GrantRequest{Enabled: &disabled}, revokedBy)
}

func (s *Service) GetGrant(ctx context.Context, userID string) (*AccessGrant, error) {
	return s.grants.GetByUserID(ctx, userID)
}

func (s *Service) ListGrants(ctx context.Context, params map[string]string, limit, offset int) ([]*AccessGrant, int, error) {
	if v, ok := params["enabled"]; ok && v != "true" && v != "false" {
		return nil, 0, fmt.Errorf("%w: enabled must be true or false", ErrInvalidFilter)
	}
	return s.grants.List(ctx, params, limit, offset)
}

// -- Usage --

func (s *Service) ListUsage(ctx context.Context, params map[string]string, limit, offset int) ([]*UsageRecord, int, error) {
	if v, ok := params["status"]; ok && v != UsageSuccess && v != UsageError {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, v)
	}
	for _, k := range []string{"from", "to"} {
		if v, ok := params[k]; ok {
			t, err := parseDate(v)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidFilter, k)
			}
			if k == "to" {
				t = t.AddDate(0, 0, 1)
			}
			params[k] = t.Format(time.RFC3339)
		}
	}
	return s.usage.Search(ctx, params, limit, offset)
}

func parseDate(v string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", v, time.Local)
}

// UsageSummary aggregates usage per user over [from, to] inclusive. Empty
// bounds default to the current day.
func (s *Service) UsageSummary(ctx context.Context, from, to string) ([]*UsageSummary, error) {
	start := dayStart(s.now())
	end := start
	var err error
	if from != "" {
		if start, err = parseDate(from); err != nil {
			return nil, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrInvalidFilter)
		}
	}
	if to != "" {
		if end, err = parseDate(to); err != nil {
			return nil, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrInvalidFilter)
		}
	} else if from != "" {
		end = start
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidFilter)
	}
	return s.usage.Summary(ctx, start, end.AddDate(0, 0, 1))
}

// MyAccess describes the grant of userID and what is left of today's budget.
// A user without a grant gets a disabled Access rather than an error.
func (s *Service) MyAccess(ctx context.Context, userID string) (*Access, error) {
	g, err := s.grants.GetByUserID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Access{Features: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	used, err := s.usage.TokensSince(ctx, userID, dayStart(s.now()))
	if err != nil {
		return nil, err
	}
	a := &Access{
		Enabled:         g.Enabled,
		Features:        g.Features,
		DailyTokenLimit: g.DailyTokenLimit,
		TokensUsedToday: used,
	}
	if g.DailyTokenLimit != nil {
		left := *g.DailyTokenLimit - used
		if left < 0 {
			left = 0
		}
		a.TokensRemaining = &left
	}
	return a, nil
}

// -- Proxy --

// authorize returns the grant of userID when it may use feature and has
// budget left today.
func (s *Service) authorize(ctx context.Context, userID, feature string) (*AccessGrant, error) {
	g, err := s.grants.GetByUserID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: no grant for this user", ErrAccessDenied)
	}
	if err != nil {
		return nil, err
	}
	if !g.Enabled {
		return nil, fmt.Errorf("%w: grant is disabled", ErrAccessDenied)
	}
	if !g.Allows(feature) {
		return nil, fmt.Errorf("%w: feature %q is not granted", ErrAccessDenied, feature)
	}
	if g.DailyTokenLimit != nil {
		used, err := s.usage.TokensSince(ctx, userID, dayStart(s.now()))
		if err != nil {
			return nil, err
		}
		if used >= *g.DailyTokenLimit {
			return nil, fmt.Errorf("%w: %d of %d tokens used", ErrTokenLimit, used, *g.DailyTokenLimit)
		}
	}
	return g, nil
}

// Chat forwards req to the AI gateway on behalf of userID. Every call that
// reaches the gateway leaves a usage row, failed ones included.
func (s *Service) Chat(ctx context.Context, userID string, req ChatRequest) (*ChatResult, error) {
	req.Feature = strings.ToLower(strings.TrimSpace(req.Feature))
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, userID, req.Feature); err != nil {
		return nil, err
	}

	started := s.now()
	resp, callErr := s.completer.Complete(ctx, aigateway.ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	rec := &UsageRecord{
		UserID:    userID,
		Feature:   req.Feature,
		Model:     req.Model,
		PatientID: req.PatientID,
		Status:    UsageSuccess,
		LatencyMS: s.now().Sub(started).Milliseconds(),
	}
	if callErr == nil {
		rec.Model = resp.Model
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
		rec.TotalTokens = resp.Usage.TotalTokens
	} else {
		msg := callErr.Error()
		rec.Status = UsageError
		rec.Error = &msg
	}
	if err := s.usage.Create(ctx, rec); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Str("feature", req.Feature).
			Msg("recording ai usage failed")
	}
	s.recorder.AIRequest(rec.Feature, rec.Status, rec.TotalTokens)

	if callErr != nil {
		if errors.Is(callErr, aigateway.ErrNotConfigured) {
			return nil, callErr
		}
		return nil, fmt.Errorf("%w: %v", ErrGateway, callErr)
	}
	reply, _ := resp.Reply()
	return &ChatResult{Message: reply, Model: resp.Model, Usage: resp.Usage}, nil
}
