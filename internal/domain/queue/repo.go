package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type QueueRepository interface {
	Create(ctx context.Context, q *Queue) error
	GetByID(ctx context.Context, id uuid.UUID) (*Queue, error)
	Update(ctx context.Context, q *Queue) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Queue, int, error)
}

type TicketRepository interface {
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	// Transition persists t only while the stored status still equals from.
	Transition(ctx context.Context, t *Ticket, from string) error
	// CallNext marks the first waiting ticket in call order as called.
	CallNext(ctx context.Context, queueID uuid.UUID, calledBy string, counter *string, at time.Time) (*Ticket, error)
	ListByQueue(ctx context.Context, queueID uuid.UUID, status string, limit, offset int) ([]*Ticket, int, error)
	// InCallOrder lists tickets with status in call order.
	InCallOrder(ctx context.Context, queueID uuid.UUID, status string) ([]*Ticket, error)
	CountAhead(ctx context.Context, t *Ticket) (int, error)
	HasActive(ctx context.Context, queueID, patientID uuid.UUID) (bool, error)
	CountActive(ctx context.Context, queueID uuid.UUID) (int, error)
}

// TokenAllocator hands out per-queue, per-day token numbers starting at 1.
type TokenAllocator interface {
	Next(ctx context.Context, queueID uuid.UUID, day time.Time) (int, error)
}
