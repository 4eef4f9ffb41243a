package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, practitioner_id, start_time, end_time, status, kind, reason, cancel_reason,
	queue_id, ticket_id, checked_in_at, created_by, created_at, updated_at`

const blockingSQL = `status IN ('booked', 'arrived', 'in_progress')`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PractitionerID, &a.StartTime, &a.EndTime, &a.Status, &a.Kind,
		&a.Reason, &a.CancelReason, &a.QueueID, &a.TicketID, &a.CheckedInAt, &a.CreatedBy,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errAppointmentNotFound
	}
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, practitioner_id, start_time, end_time, status, kind,
			reason, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PractitionerID, a.StartTime, a.EndTime, a.Status, a.Kind, a.Reason, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET start_time=$2, end_time=$3, status=$4, kind=$5, reason=$6,
			cancel_reason=$7, queue_id=$8, ticket_id=$9, checked_in_at=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.StartTime, a.EndTime, a.Status, a.Kind, a.Reason, a.CancelReason, a.QueueID, a.TicketID,
		a.CheckedInAt,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errAppointmentNotFound
	}
	return err
}

func (r *appointmentRepoPG) LockPractitioner(ctx context.Context, practitionerID string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('appointment:' || $1))`, practitionerID)
	return err
}

func (r *appointmentRepoPG) HasOverlap(ctx context.Context, practitionerID string, start, end time.Time, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE practitioner_id = $1 AND id <> $4 AND `+blockingSQL+`
				AND start_time < $3 AND end_time > $2
		)`, practitionerID, start, end, exclude).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) ListByPractitionerDay(ctx context.Context, practitionerID string, from, to time.Time) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE practitioner_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	return db.CollectRows(rows, scanAppointment)
}

func (r *appointmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
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
	if v, ok := params["kind"]; ok {
		f.Add("kind = ?", v)
	}
	if v, ok := params["from"]; ok {
		f.Add("start_time >= ?::timestamptz", v)
	}
	if v, ok := params["to"]; ok {
		f.Add("start_time < ?::timestamptz", v)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+apptCols+` FROM appointment`+f.Where()+` ORDER BY start_time`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanAppointment)
	return items, total, err
}
