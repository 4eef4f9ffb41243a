package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/realtime"
	"github.com/clinic/clinic/pkg/rules"
)

// TransitionRecorder counts ticket state changes. *metrics.Metrics
// implements it.
type TransitionRecorder interface {
	QueueTransition(transition string)
}

// CallListener is told about every ticket that moves to called.
type CallListener interface {
	TicketCalled(ctx context.Context, q *Queue, t *Ticket)
}

type nopRecorder struct{}

func (nopRecorder) QueueTransition(string) {}

type Service struct {
	queues   QueueRepository
	tickets  TicketRepository
	tokens   TokenAllocator
	tx       db.Transactor
	events   realtime.Publisher
	recorder TransitionRecorder
	listener CallListener
	now      func() time.Time
}

func NewService(queues QueueRepository, tickets TicketRepository, tokens TokenAllocator, tx db.Transactor, events realtime.Publisher) *Service {
	if events == nil {
		events = realtime.NopPublisher{}
	}
	return &Service{
		queues:   queues,
		tickets:  tickets,
		tokens:   tokens,
		tx:       tx,
		events:   events,
		recorder: nopRecorder{},
		now:      time.Now,
	}
}

func (s *Service) SetRecorder(r TransitionRecorder) { s.recorder = r }
func (s *Service) SetCallListener(l CallListener)   { s.listener = l }

// -- Queues --

func (s *Service) CreateQueue(ctx context.Context, q *Queue) error {
	q.TokenPrefix = rules.NormalizeCode(q.TokenPrefix)
	if err := q.Validate(); err != nil {
		return err
	}
	q.Active = true
	return s.queues.Create(ctx, q)
}

func (s *Service) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	return s.queues.GetByID(ctx, id)
}

func (s *Service) UpdateQueue(ctx context.Context, q *Queue) error {
	q.TokenPrefix = rules.NormalizeCode(q.TokenPrefix)
	if err := q.Validate(); err != nil {
		return err
	}
	existing, err := s.queues.GetByID(ctx, q.ID)
	if err != nil {
		return err
	}
	q.CreatedAt = existing.CreatedAt
	return s.queues.Update(ctx, q)
}

func (s *Service) DeleteQueue(ctx context.Context, id uuid.UUID) error {
	if _, err := s.queues.GetByID(ctx, id); err != nil {
		return err
	}
	n, err := s.tickets.CountActive(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrQueueBusy
	}
	return s.queues.Delete(ctx, id)
}

func (s *Service) SearchQueues(ctx context.Context, params map[string]string, limit, offset int) ([]*Queue, int, error) {
	return s.queues.Search(ctx, params, limit, offset)
}

// -- Tickets --

func (s *Service) IssueTicket(ctx context.Context, queueID uuid.UUID, req IssueTicketRequest) (*Ticket, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q, err := s.queues.GetByID(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if !q.Active {
		return nil, ErrQueueInactive
	}
	active, err := s.tickets.HasActive(ctx, queueID, req.PatientID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrActiveTicket
	}

	n, err := s.tokens.Next(ctx, queueID, s.now())
	if err != nil {
		return nil, err
	}
	t := &Ticket{
		QueueID:       queueID,
		PatientID:     req.PatientID,
		AppointmentID: req.AppointmentID,
		TokenNumber:   n,
		TokenLabel:    TokenLabel(q.TokenPrefix, n),
		Priority:      req.Priority,
		Status:        StatusWaiting,
		Note:          req.Note,
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		return nil, err
	}
	s.changed(ctx, t, "issued")
	return t, nil
}

func (s *Service) GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.tickets.GetByID(ctx, id)
}

func (s *Service) ListTickets(ctx context.Context, queueID uuid.UUID, status string, limit, offset int) ([]*Ticket, int, error) {
	if status != "" && status != StatusWaiting && status != StatusCalled &&
		status != StatusServed && status != StatusCancelled {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, status)
	}
	return s.tickets.ListByQueue(ctx, queueID, status, limit, offset)
}

// CallNext hands the next waiting ticket to calledBy.
func (s *Service) CallNext(ctx context.Context, queueID uuid.UUID, calledBy string, req CallNextRequest) (*Ticket, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q, err := s.queues.GetByID(ctx, queueID)
	if err != nil {
		return nil, err
	}
	t, err := s.tickets.CallNext(ctx, queueID, calledBy, req.Counter, s.now())
	if err != nil {
		return nil, err
	}
	s.changed(ctx, t, "called")
	if s.listener != nil {
		s.listener.TicketCalled(ctx, q, t)
	}
	return t, nil
}

// Recall announces a called ticket again. Nothing is persisted.
func (s *Service) Recall(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusCalled {
		return nil, ErrInvalidTransition
	}
	s.changed(ctx, t, "recalled")
	return t, nil
}

// Requeue puts a called ticket back. created_at is untouched, so the
// ticket keeps its place.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, id, StatusWaiting, "requeued", func(t *Ticket) {
		t.CalledBy = nil
		t.Counter = nil
		t.CalledAt = nil
	})
}

func (s *Service) Serve(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, id, StatusServed, "served", func(t *Ticket) {
		now := s.now()
		t.ServedAt = &now
	})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*Ticket, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, StatusCancelled, "cancelled", func(t *Ticket) {
		now := s.now()
		t.CancelledAt = &now
		if req.Reason != "" {
			reason := req.Reason
			t.CancelReason = &reason
		}
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to, name string, apply func(*Ticket)) (*Ticket, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := t.Status
	if !canTransition(from, to) {
		return nil, ErrInvalidTransition
	}
	t.Status = to
	apply(t)
	if err := s.tickets.Transition(ctx, t, from); err != nil {
		return nil, err
	}
	s.changed(ctx, t, name)
	return t, nil
}

// CompleteTriage serves a called triage ticket and queues the patient for
// a doctor under the same token.
func (s *Service) CompleteTriage(ctx context.Context, id uuid.UUID, req CompleteTriageRequest) (original, next *Ticket, err error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.tickets.GetByID(ctx, id)
		if err != nil {
			return err
		}
		src, err := s.queues.GetByID(ctx, t.QueueID)
		if err != nil {
			return err
		}
		if src.Kind != KindTriage {
			return ErrNotTriage
		}
		if t.Status != StatusCalled {
			return ErrInvalidTransition
		}
		dst, err := s.queues.GetByID(ctx, req.DoctorQueueID)
		if err != nil {
			return fmt.Errorf("doctor queue: %w", err)
		}
		if dst.Kind != KindDoctor || !dst.Active {
			return ErrInvalidTarget
		}

		now := s.now()
		t.Status = StatusServed
		t.ServedAt = &now
		if err := s.tickets.Transition(ctx, t, StatusCalled); err != nil {
			return err
		}

		n := &Ticket{
			QueueID:        dst.ID,
			PatientID:      t.PatientID,
			AppointmentID:  t.AppointmentID,
			TokenNumber:    t.TokenNumber,
			TokenLabel:     t.TokenLabel,
			Priority:       t.Priority,
			Status:         StatusWaiting,
			SourceTicketID: &t.ID,
			Note:           req.Note,
		}
		if req.Priority != "" {
			n.Priority = req.Priority
		}
		if err := s.tickets.Create(ctx, n); err != nil {
			return err
		}
		original, next = t, n
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.changed(ctx, original, "served")
	s.changed(ctx, next, "triaged")
	return original, next, nil
}

// Position reports how many waiting tickets will be called before id.
func (s *Service) Position(ctx context.Context, id uuid.UUID) (*Position, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusWaiting {
		return nil, fmt.Errorf("%w: ticket is %s", ErrNotWaiting, t.Status)
	}
	ahead, err := s.tickets.CountAhead(ctx, t)
	if err != nil {
		return nil, err
	}
	return &Position{TicketID: t.ID, TokenLabel: t.TokenLabel, Ahead: ahead, Position: ahead + 1}, nil
}

func (s *Service) Board(ctx context.Context, queueID uuid.UUID) (*Board, error) {
	q, err := s.queues.GetByID(ctx, queueID)
	if err != nil {
		return nil, err
	}
	called, err := s.tickets.InCallOrder(ctx, queueID, StatusCalled)
	if err != nil {
		return nil, err
	}
	waiting, err := s.tickets.InCallOrder(ctx, queueID, StatusWaiting)
	if err != nil {
		return nil, err
	}
	if called == nil {
		called = []*Ticket{}
	}
	if waiting == nil {
		waiting = []*Ticket{}
	}
	return &Board{Queue: q, NowServing: called, Waiting: waiting}, nil
}

// changed publishes a queue event and counts the transition once any
// enclosing transaction commits. Delivery is best effort.
func (s *Service) changed(ctx context.Context, t *Ticket, transition string) {
	db.AfterCommit(ctx, func() {
		s.recorder.QueueTransition(transition)
		ev := realtime.NewEvent(realtime.QueueTopic(t.QueueID.String()), "ticket."+transition, "ticket", t.ID.String(), t)
		if err := s.events.Publish(ctx, ev); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("ticket_id", t.ID.String()).Msg("publish queue event")
		}
	})
}
