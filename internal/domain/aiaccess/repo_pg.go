package aiaccess

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// -- Grant Repository --

type grantRepoPG struct{ pool *pgxpool.Pool }

func NewGrantRepoPG(pool *pgxpool.Pool) GrantRepository { return &grantRepoPG{pool: pool} }

const grantCols = `id, user_id, enabled, features, daily_token_limit, granted_by, note, created_at, updated_at`

func scanGrant(row pgx.Row) (*AccessGrant, error) {
	var g AccessGrant
	err := row.Scan(&g.ID, &g.UserID, &g.Enabled, &g.Features, &g.DailyTokenLimit, &g.GrantedBy, &g.Note,
		&g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errGrantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *grantRepoPG) Upsert(ctx context.Context, g *AccessGrant) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO ai_access_grant (id, user_id, enabled, features, daily_token_limit, granted_by, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET enabled = EXCLUDED.enabled, features = EXCLUDED.features,
			daily_token_limit = EXCLUDED.daily_token_limit, granted_by = EXCLUDED.granted_by,
			note = EXCLUDED.note, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		g.ID, g.UserID, g.Enabled, g.Features, g.DailyTokenLimit, g.GrantedBy, g.Note,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
}

func (r *grantRepoPG) GetByUserID(ctx context.Context, userID string) (*AccessGrant, error) {
	return scanGrant(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+grantCols+` FROM ai_access_grant WHERE user_id = $1`, userID))
}

func (r *grantRepoPG) List(ctx context.Context, params map[string]string, limit, offset int) ([]*AccessGrant, int, error) {
	var f db.Filter
	if v, ok := params["enabled"]; ok {
		f.Add("enabled = ?", v == "true")
	}
	if v, ok := params["feature"]; ok {
		f.Add("(? = ANY(features) OR '*' = ANY(features))", v)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM ai_access_grant`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+grantCols+` FROM ai_access_grant`+f.Where()+` ORDER BY user_id`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanGrant)
	return items, total, err
}

// -- Usage Repository --

type usageRepoPG struct{ pool *pgxpool.Pool }

func NewUsageRepoPG(pool *pgxpool.Pool) UsageRepository { return &usageRepoPG{pool: pool} }

const usageCols = `id, user_id, feature, model, prompt_tokens, completion_tokens, total_tokens, patient_id,
	status, error, latency_ms, created_at`

func scanUsage(row pgx.Row) (*UsageRecord, error) {
	var u UsageRecord
	if err := row.Scan(&u.ID, &u.UserID, &u.Feature, &u.Model, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens,
		&u.PatientID, &u.Status, &u.Error, &u.LatencyMS, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *usageRepoPG) Create(ctx context.Context, u *UsageRecord) error {
	u.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO ai_usage (id, user_id, feature, model, prompt_tokens, completion_tokens, total_tokens,
			patient_id, status, error, latency_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		u.ID, u.UserID, u.Feature, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens,
		u.PatientID, u.Status, u.Error, u.LatencyMS,
	).Scan(&u.CreatedAt)
}

func (r *usageRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*UsageRecord, int, error) {
	var f db.Filter
	for _, k := range []string{"user_id", "feature", "status"} {
		if v, ok := params[k]; ok {
			f.Add(k+" = ?", v)
		}
	}
	if v, ok := params["patient_id"]; ok {
		f.Add("patient_id = ?", v)
	}
	if v, ok := params["from"]; ok {
		f.Add("created_at >= ?::timestamptz", v)
	}
	if v, ok := params["to"]; ok {
		f.Add("created_at < ?::timestamptz", v)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM ai_usage`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+usageCols+` FROM ai_usage`+f.Where()+` ORDER BY created_at DESC, id`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanUsage)
	return items, total, err
}

func (r *usageRepoPG) TokensSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var total int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0) FROM ai_usage WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&total)
	return total, err
}

func (r *usageRepoPG) Summary(ctx context.Context, from, to time.Time) ([]*UsageSummary, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT user_id, COUNT(*), COUNT(*) FILTER (WHERE status = 'error'),
			COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0)
		FROM ai_usage
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY user_id
		ORDER BY SUM(total_tokens) DESC, user_id`, from, to)
	if err != nil {
		return nil, err
	}
	return db.CollectRows(rows, func(row pgx.Row) (*UsageSummary, error) {
		var s UsageSummary
		err := row.Scan(&s.UserID, &s.Requests, &s.Errors, &s.PromptTokens, &s.CompletionTokens, &s.TotalTokens)
		return &s, err
	})
}
