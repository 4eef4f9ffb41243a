package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// =========== Queue Repository ===========

type queueRepoPG struct{ pool *pgxpool.Pool }

func NewQueueRepoPG(pool *pgxpool.Pool) QueueRepository { return &queueRepoPG{pool: pool} }

const queueCols = `id, name, kind, department, practitioner_id, token_prefix, active, created_at, updated_at`

func scanQueue(row pgx.Row) (*Queue, error) {
	var q Queue
	err := row.Scan(&q.ID, &q.Name, &q.Kind, &q.Department, &q.PractitionerID, &q.TokenPrefix,
		&q.Active, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errQueueNotFound
	}
	return &q, err
}

func (r *queueRepoPG) Create(ctx context.Context, q *Queue) error {
	q.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO queue (id, name, kind, department, practitioner_id, token_prefix, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		q.ID, q.Name, q.Kind, q.Department, q.PractitionerID, q.TokenPrefix, q.Active,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
}

func (r *queueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Queue, error) {
	return scanQueue(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+queueCols+` FROM queue WHERE id = $1`, id))
}

func (r *queueRepoPG) Update(ctx context.Context, q *Queue) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE queue SET name=$2, kind=$3, department=$4, practitioner_id=$5, token_prefix=$6,
			active=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		q.ID, q.Name, q.Kind, q.Department, q.PractitionerID, q.TokenPrefix, q.Active,
	).Scan(&q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errQueueNotFound
	}
	return err
}

func (r *queueRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM queue WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrQueueInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errQueueNotFound
	}
	return nil
}

func (r *queueRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Queue, int, error) {
	var f db.Filter
	if v, ok := params["kind"]; ok {
		f.Add("kind = ?", v)
	}
	if v, ok := params["active"]; ok {
		f.Add("active = ?", v == "true")
	}
	if v, ok := params["department"]; ok {
		f.Add("department = ?", v)
	}
	if v, ok := params["practitioner_id"]; ok {
		f.Add("practitioner_id = ?", v)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM queue`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+queueCols+` FROM queue`+f.Where()+` ORDER BY name`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanQueue)
	return items, total, err
}

// =========== Ticket Repository ===========

type ticketRepoPG struct{ pool *pgxpool.Pool }

func NewTicketRepoPG(pool *pgxpool.Pool) TicketRepository { return &ticketRepoPG{pool: pool} }

const ticketCols = `id, queue_id, patient_id, appointment_id, token_number, token_label, priority,
	status, source_ticket_id, called_by, counter, called_at, served_at, cancelled_at,
	cancel_reason, note, created_at, updated_at`

// callOrder must match Ticket.before.
const callOrder = `priority_rank, created_at, token_number`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.QueueID, &t.PatientID, &t.AppointmentID, &t.TokenNumber, &t.TokenLabel,
		&t.Priority, &t.Status, &t.SourceTicketID, &t.CalledBy, &t.Counter, &t.CalledAt, &t.ServedAt,
		&t.CancelledAt, &t.CancelReason, &t.Note, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errTicketNotFound
	}
	return &t, err
}

func (r *ticketRepoPG) Create(ctx context.Context, t *Ticket) error {
	t.ID = uuid.New()
	rank, _ := PriorityRank(t.Priority)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO queue_ticket (id, queue_id, patient_id, appointment_id, token_number, token_label,
			priority, priority_rank, status, source_ticket_id, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		t.ID, t.QueueID, t.PatientID, t.AppointmentID, t.TokenNumber, t.TokenLabel,
		t.Priority, rank, t.Status, t.SourceTicketID, t.Note,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err):
		return ErrActiveTicket
	case db.IsForeignKeyViolation(err):
		return missingReference(err)
	}
	return err
}

// missingReference names the row a queue_ticket foreign key points at.
func missingReference(err error) error {
	switch db.ViolatedConstraint(err) {
	case "queue_ticket_patient_id_fkey":
		return ErrPatientNotFound
	case "queue_ticket_queue_id_fkey":
		return errQueueNotFound
	case "queue_ticket_source_ticket_id_fkey":
		return errTicketNotFound
	}
	return fmt.Errorf("referenced record %w", ErrNotFound)
}

func (r *ticketRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return scanTicket(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+ticketCols+` FROM queue_ticket WHERE id = $1`, id))
}

func (r *ticketRepoPG) Transition(ctx context.Context, t *Ticket, from string) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE queue_ticket SET status=$3, called_by=$4, counter=$5, called_at=$6, served_at=$7,
			cancelled_at=$8, cancel_reason=$9, updated_at=NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`,
		t.ID, from, t.Status, t.CalledBy, t.Counter, t.CalledAt, t.ServedAt,
		t.CancelledAt, t.CancelReason,
	).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvalidTransition
	}
	return err
}

// CallNext is a single statement so two counters calling at once never get
// the same ticket.
func (r *ticketRepoPG) CallNext(ctx context.Context, queueID uuid.UUID, calledBy string, counter *string, at time.Time) (*Ticket, error) {
	t, err := scanTicket(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE queue_ticket SET status='called', called_by=$2, counter=$3, called_at=$4, updated_at=NOW()
		WHERE id = (
			SELECT id FROM queue_ticket
			WHERE queue_id = $1 AND status = 'waiting'
			ORDER BY `+callOrder+`
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+ticketCols,
		queueID, calledBy, counter, at))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrQueueEmpty
	}
	return t, err
}

func (r *ticketRepoPG) ListByQueue(ctx context.Context, queueID uuid.UUID, status string, limit, offset int) ([]*Ticket, int, error) {
	var f db.Filter
	f.Add("queue_id = ?", queueID)
	if status != "" {
		f.Add("status = ?", status)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM queue_ticket`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+ticketCols+` FROM queue_ticket`+f.Where()+
		` ORDER BY `+callOrder+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanTicket)
	return items, total, err
}

func (r *ticketRepoPG) InCallOrder(ctx context.Context, queueID uuid.UUID, status string) ([]*Ticket, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+ticketCols+` FROM queue_ticket
		WHERE queue_id = $1 AND status = $2
		ORDER BY `+callOrder, queueID, status)
	if err != nil {
		return nil, err
	}
	return db.CollectRows(rows, scanTicket)
}

func (r *ticketRepoPG) CountAhead(ctx context.Context, t *Ticket) (int, error) {
	rank, _ := PriorityRank(t.Priority)
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_ticket
		WHERE queue_id = $1 AND status = 'waiting' AND id <> $2
			AND (`+callOrder+`) < ($3, $4, $5)`,
		t.QueueID, t.ID, rank, t.CreatedAt, t.TokenNumber).Scan(&n)
	return n, err
}

func (r *ticketRepoPG) HasActive(ctx context.Context, queueID, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_ticket
			WHERE queue_id = $1 AND patient_id = $2 AND status IN ('waiting', 'called')
		)`, queueID, patientID).Scan(&exists)
	return exists, err
}

func (r *ticketRepoPG) CountActive(ctx context.Context, queueID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_ticket
		WHERE queue_id = $1 AND status IN ('waiting', 'called')`, queueID).Scan(&n)
	return n, err
}
