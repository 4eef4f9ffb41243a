package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// SetDelivery records the outcome of an email or sms send.
	SetDelivery(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time, errMsg *string) error
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	// MarkRead marks one in_app row of recipientID read; errNotificationNotFound
	// when no such row exists.
	MarkRead(ctx context.Context, id uuid.UUID, recipientID string, at time.Time) (*Notification, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
}
