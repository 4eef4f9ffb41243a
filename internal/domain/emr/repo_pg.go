package emr

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// -- Clinical Note Repository --

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository { return &noteRepoPG{pool: pool} }

const noteCols = `id, patient_id, author_id, appointment_id, note_type, status,
	subjective, objective, assessment, plan, signed_by, signed_at, amends_id, amend_reason,
	created_at, updated_at`

func scanNote(row pgx.Row) (*ClinicalNote, error) {
	var n ClinicalNote
	err := row.Scan(&n.ID, &n.PatientID, &n.AuthorID, &n.AppointmentID, &n.NoteType, &n.Status,
		&n.Subjective, &n.Objective, &n.Assessment, &n.Plan, &n.SignedBy, &n.SignedAt, &n.AmendsID, &n.AmendReason,
		&n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *ClinicalNote) error {
	n.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinical_note (id, patient_id, author_id, appointment_id, note_type, status,
			subjective, objective, assessment, plan, amends_id, amend_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		n.ID, n.PatientID, n.AuthorID, n.AppointmentID, n.NoteType, n.Status,
		n.Subjective, n.Objective, n.Assessment, n.Plan, n.AmendsID, n.AmendReason,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	return err
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return scanNote(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+noteCols+` FROM clinical_note WHERE id = $1`, id))
}

func (r *noteRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return scanNote(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+noteCols+` FROM clinical_note WHERE id = $1 FOR UPDATE`, id))
}

func (r *noteRepoPG) Update(ctx context.Context, n *ClinicalNote) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE clinical_note SET note_type=$2, status=$3, subjective=$4, objective=$5, assessment=$6,
			plan=$7, signed_by=$8, signed_at=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		n.ID, n.NoteType, n.Status, n.Subjective, n.Objective, n.Assessment, n.Plan, n.SignedBy, n.SignedAt,
	).Scan(&n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errNoteNotFound
	}
	return err
}

func (r *noteRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM clinical_note WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoteNotFound
	}
	return nil
}

func (r *noteRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*ClinicalNote, int, error) {
	var f db.Filter
	if v, ok := params["patient_id"]; ok {
		f.Add("patient_id = ?", v)
	}
	if v, ok := params["appointment_id"]; ok {
		f.Add("appointment_id = ?", v)
	}
	if v, ok := params["author_id"]; ok {
		f.Add("author_id = ?", v)
	}
	if v, ok := params["status"]; ok {
		f.Add("status = ?", v)
	}
	if v, ok := params["note_type"]; ok {
		f.Add("note_type = ?", v)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM clinical_note`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+noteCols+` FROM clinical_note`+f.Where()+` ORDER BY created_at DESC, id`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanNote)
	return items, total, err
}

// -- Assessment Repository --

type assessmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssessmentRepoPG(pool *pgxpool.Pool) AssessmentRepository {
	return &assessmentRepoPG{pool: pool}
}

const assessmentCols = `id, patient_id, assessment_type, score, severity, responses, notes,
	assessed_by, assessed_at, created_at`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.PatientID, &a.AssessmentType, &a.Score, &a.Severity, &a.Responses, &a.Notes,
		&a.AssessedBy, &a.AssessedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assessmentRepoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO assessment (id, patient_id, assessment_type, score, severity, responses, notes,
			assessed_by, assessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		a.ID, a.PatientID, a.AssessmentType, a.Score, a.Severity, a.Responses, a.Notes,
		a.AssessedBy, a.AssessedAt,
	).Scan(&a.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	return err
}

func (r *assessmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return scanAssessment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+assessmentCols+` FROM assessment WHERE id = $1`, id))
}

func (r *assessmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM assessment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errAssessmentNotFound
	}
	return nil
}

func (r *assessmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, assessmentType string, limit, offset int) ([]*Assessment, int, error) {
	var f db.Filter
	f.Add("patient_id = ?", patientID)
	if assessmentType != "" {
		f.Add("assessment_type = ?", assessmentType)
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM assessment`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+assessmentCols+` FROM assessment`+f.Where()+` ORDER BY assessed_at DESC, id`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanAssessment)
	return items, total, err
}

// -- Protocol Repository --

type protocolRepoPG struct{ pool *pgxpool.Pool }

func NewProtocolRepoPG(pool *pgxpool.Pool) ProtocolRepository { return &protocolRepoPG{pool: pool} }

const protocolCols = `id, name, condition, description, steps, active, created_by, created_at, updated_at`

func scanProtocol(row pgx.Row) (*Protocol, error) {
	var p Protocol
	err := row.Scan(&p.ID, &p.Name, &p.Condition, &p.Description, &p.Steps, &p.Active, &p.CreatedBy,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errProtocolNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func protocolError(err error) error {
	if db.IsUniqueViolation(err) {
		return ErrDuplicateProtocol
	}
	return err
}

func (r *protocolRepoPG) Create(ctx context.Context, p *Protocol) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO protocol (id, name, condition, description, steps, active, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Condition, p.Description, p.Steps, p.Active, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return protocolError(err)
}

func (r *protocolRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Protocol, error) {
	return scanProtocol(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+protocolCols+` FROM protocol WHERE id = $1`, id))
}

func (r *protocolRepoPG) Update(ctx context.Context, p *Protocol) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE protocol SET name=$2, condition=$3, description=$4, steps=$5, active=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Condition, p.Description, p.Steps, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errProtocolNotFound
	}
	return protocolError(err)
}

func (r *protocolRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM protocol WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errProtocolNotFound
	}
	return nil
}

func (r *protocolRepoPG) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Protocol, int, error) {
	var f db.Filter
	if v, ok := params["q"]; ok {
		f.Add("(name ILIKE ? OR condition ILIKE ?)", "%"+v+"%")
	}
	if v, ok := params["condition"]; ok {
		f.Add("condition = ?", v)
	}
	if v, ok := params["active"]; ok {
		f.Add("active = ?", v == "true")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM protocol`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+protocolCols+` FROM protocol`+f.Where()+` ORDER BY name, id`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, scanProtocol)
	return items, total, err
}
