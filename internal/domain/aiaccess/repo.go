package aiaccess

import (
	"context"
	"time"
)

type GrantRepository interface {
	// Upsert inserts g or replaces the grant of g.UserID.
	Upsert(ctx context.Context, g *AccessGrant) error
	GetByUserID(ctx context.Context, userID string) (*AccessGrant, error)
	List(ctx context.Context, params map[string]string, limit, offset int) ([]*AccessGrant, int, error)
}

type UsageRepository interface {
	Create(ctx context.Context, u *UsageRecord) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*UsageRecord, int, error)
	// TokensSince sums total_tokens of userID's rows created at or after since.
	TokensSince(ctx context.Context, userID string, since time.Time) (int, error)
	Summary(ctx context.Context, from, to time.Time) ([]*UsageSummary, error)
}
