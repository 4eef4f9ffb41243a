package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const notificationCols = `id, recipient_id, channel, category, title, body, data, status, error, read_at, sent_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.Channel, &n.Category, &n.Title, &n.Body, &n.Data,
		&n.Status, &n.Error, &n.ReadAt, &n.SentAt, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notification (id, recipient_id, channel, category, title, body, data, status, error, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		n.ID, n.RecipientID, n.Channel, n.Category, n.Title, n.Body, n.Data, n.Status, n.Error, n.SentAt,
	).Scan(&n.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+notificationCols+` FROM notification WHERE id = $1`, id))
}

func (r *repoPG) SetDelivery(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time, errMsg *string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notification SET status = $2, sent_at = $3, error = $4 WHERE id = $1`,
		id, status, sentAt, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNotificationNotFound
	}
	return nil
}

func (r *repoPG) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	var f db.Filter
	f.Add("recipient_id = ?", recipientID)
	f.Add("channel = ?", ChannelInApp)
	if unreadOnly {
		f.AddCond("read_at IS NULL")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notification`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+notificationCols+` FROM notification`+f.Where()+` ORDER BY created_at DESC, id`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanNotification)
	return items, total, err
}

func (r *repoPG) MarkRead(ctx context.Context, id uuid.UUID, recipientID string, at time.Time) (*Notification, error) {
	return scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE notification SET status = $3, read_at = COALESCE(read_at, $4)
		WHERE id = $1 AND recipient_id = $2 AND channel = $5
		RETURNING `+notificationCols,
		id, recipientID, StatusRead, at, ChannelInApp))
}

func (r *repoPG) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notification SET status = $2, read_at = $3
		WHERE recipient_id = $1 AND channel = $4 AND read_at IS NULL`,
		recipientID, StatusRead, at, ChannelInApp)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM notification WHERE recipient_id = $1 AND channel = $2 AND read_at IS NULL`,
		recipientID, ChannelInApp).Scan(&n)
	return n, err
}
