package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinic/clinic/internal/platform/db"
)

const tokenKeyTTL = 48 * time.Hour

// RedisTokenAllocator counts tokens with INCR on a per-tenant, per-queue,
// per-day key.
type RedisTokenAllocator struct {
	rdb redis.Cmdable
}

func NewRedisTokenAllocator(rdb redis.Cmdable) *RedisTokenAllocator {
	return &RedisTokenAllocator{rdb: rdb}
}

func tokenKey(tenant string, queueID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("clinic:token:%s:%s:%s", tenant, queueID, day.Format("20060102"))
}

func (a *RedisTokenAllocator) Next(ctx context.Context, queueID uuid.UUID, day time.Time) (int, error) {
	key := tokenKey(db.TenantFromContext(ctx), queueID, day)

	var incr *redis.IntCmd
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, tokenKeyTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("allocate token: %w", err)
	}
	return int(incr.Val()), nil
}

// PGTokenAllocator keeps the counter in the queue_token_counter table.
type PGTokenAllocator struct {
	pool *pgxpool.Pool
}

func NewPGTokenAllocator(pool *pgxpool.Pool) *PGTokenAllocator {
	return &PGTokenAllocator{pool: pool}
}

func (a *PGTokenAllocator) Next(ctx context.Context, queueID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, a.pool).QueryRow(ctx, `
		INSERT INTO queue_token_counter (queue_id, day, last_token)
		VALUES ($1, $2, 1)
		ON CONFLICT (queue_id, day) DO UPDATE SET last_token = queue_token_counter.last_token + 1
		RETURNING last_token`,
		queueID, time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("allocate token: %w", err)
	}
	return n, nil
}
