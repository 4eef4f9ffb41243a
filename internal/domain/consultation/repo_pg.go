package consultation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// -- Consultation Repository --

type consultationRepoPG struct{ pool *pgxpool.Pool }

func NewConsultationRepoPG(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepoPG{pool: pool}
}

const consultationCols = `id, patient_id, practitioner_id, appointment_id, mode, status, reason, requested_by,
	started_at, ended_at, summary, cancel_reason, created_at, updated_at`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.PatientID, &c.PractitionerID, &c.AppointmentID, &c.Mode, &c.Status, &c.Reason,
		&c.RequestedBy, &c.StartedAt, &c.EndedAt, &c.Summary, &c.CancelReason, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errConsultationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consultation (id, patient_id, practitioner_id, appointment_id, mode, status, reason, requested_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.PractitionerID, c.AppointmentID, c.Mode, c.Status, c.Reason, c.RequestedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	return err
}

func (r *consultationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+consultationCols+` FROM consultation WHERE id = $1`, id))
}

func (r *consultationRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+consultationCols+` FROM consultation WHERE id = $1 FOR UPDATE`, id))
}

func (r *consultationRepoPG) Update(ctx context.Context, c *Consultation) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE consultation SET status=$2, started_at=$3, ended_at=$4, summary=$5, cancel_reason=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Status, c.StartedAt, c.EndedAt, c.Summary, c.CancelReason,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errConsultationNotFound
	}
	return err
}

func (r *consultationRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Consultation, int, error) {
	var f db.Filter
	if v, ok := params["patient_id"]; ok {
		f.Add("patient_id = ?", v)
	}
	if v, ok := params["practitioner_id"]; ok {
		f.Add("practitioner_id = ?", v)
	}
	if v, ok := params["status"]; ok {
		f.Add("status = ?", v)
	}
	if v, ok := params["mode"]; ok {
		f.Add("mode = ?", v)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM consultation`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+consultationCols+` FROM consultation`+f.Where()+` ORDER BY created_at DESC, id`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanConsultation)
	return items, total, err
}

// -- Message Repository --

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository { return &messageRepoPG{pool: pool} }

const messageCols = `id, consultation_id, sender_id, sender_role, body, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConsultationID, &m.SenderID, &m.SenderRole, &m.Body, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consultation_message (id, consultation_id, sender_id, sender_role, body)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		m.ID, m.ConsultationID, m.SenderID, m.SenderRole, m.Body,
	).Scan(&m.CreatedAt)
}

// ListByConsultation returns messages oldest first.
func (r *messageRepoPG) ListByConsultation(ctx context.Context, consultationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM consultation_message WHERE consultation_id = $1`, consultationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+messageCols+` FROM consultation_message WHERE consultation_id = $1
		ORDER BY created_at, id LIMIT $2 OFFSET $3`, consultationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanMessage)
	return items, total, err
}
