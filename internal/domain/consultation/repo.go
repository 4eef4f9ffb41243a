package consultation

import (
	"context"

	"github.com/google/uuid"
)

type ConsultationRepository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error)
	Update(ctx context.Context, c *Consultation) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Consultation, int, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListByConsultation(ctx context.Context, consultationID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
