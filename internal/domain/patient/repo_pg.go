package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/phi"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool      *pgxpool.Pool
	encryptor phi.FieldEncryptor
}

// NewPatientRepoPG stores address and emergency contact columns encrypted
// with enc. enc may be nil.
func NewPatientRepoPG(pool *pgxpool.Pool, enc phi.FieldEncryptor) PatientRepository {
	return &patientRepoPG{pool: pool, encryptor: enc}
}

const patientCols = `id, mrn, user_id, first_name, last_name, birth_date, gender, phone, email, address,
	blood_group, emergency_contact_name, emergency_contact_phone, active, created_at, updated_at`

// mrnDefault renders MRN-<year>-<6 digit sequence>.
const mrnDefault = `'MRN-' || to_char(NOW(), 'YYYY') || '-' || lpad(nextval('patient_mrn_seq')::text, 6, '0')`

func (r *patientRepoPG) scan(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.UserID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.Address, &p.BloodGroup, &p.EmergencyContactName, &p.EmergencyContactPhone,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.decrypt(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// sealed returns the encrypted column values of p without touching p.
func (r *patientRepoPG) sealed(p *Patient) (addr, ecName, ecPhone *string, err error) {
	addr, ecName, ecPhone = p.Address, p.EmergencyContactName, p.EmergencyContactPhone
	for _, v := range []**string{&addr, &ecName, &ecPhone} {
		if err = phi.Seal(r.encryptor, v); err != nil {
			return nil, nil, nil, err
		}
	}
	return addr, ecName, ecPhone, nil
}

func (r *patientRepoPG) decrypt(p *Patient) error {
	for _, v := range []**string{&p.Address, &p.EmergencyContactName, &p.EmergencyContactPhone} {
		if err := phi.Open(r.encryptor, v); err != nil {
			return err
		}
	}
	return nil
}

func uniqueError(err error) error {
	if !db.IsUniqueViolation(err) {
		return err
	}
	if db.ViolatedConstraint(err) == "patient_user_id_key" {
		return ErrUserLinked
	}
	return ErrDuplicateMRN
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	addr, ecName, ecPhone, err := r.sealed(p)
	if err != nil {
		return err
	}
	p.ID = uuid.New()
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, user_id, first_name, last_name, birth_date, gender, phone, email,
			address, blood_group, emergency_contact_name, emergency_contact_phone, active)
		VALUES ($1, COALESCE(NULLIF($2::text, ''), `+mrnDefault+`), $3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING mrn, created_at, updated_at`,
		p.ID, p.MRN, p.UserID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone, p.Email,
		addr, p.BloodGroup, ecName, ecPhone, p.Active,
	).Scan(&p.MRN, &p.CreatedAt, &p.UpdatedAt)
	return uniqueError(err)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return r.scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE upper(mrn) = upper($1)`, mrn))
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID string) (*Patient, error) {
	return r.scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE user_id = $1`, userID))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	addr, ecName, ecPhone, err := r.sealed(p)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET mrn=$2, user_id=$3, first_name=$4, last_name=$5, birth_date=$6, gender=$7,
			phone=$8, email=$9, address=$10, blood_group=$11, emergency_contact_name=$12,
			emergency_contact_phone=$13, active=$14, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.MRN, p.UserID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone, p.Email,
		addr, p.BloodGroup, ecName, ecPhone, p.Active,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errPatientNotFound
	}
	return uniqueError(err)
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrPatientInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	var f db.Filter
	if v, ok := params["q"]; ok {
		f.Add(`(first_name ILIKE ? OR last_name ILIKE ? OR (first_name || ' ' || last_name) ILIKE ?
			OR mrn ILIKE ? OR phone ILIKE ?)`, "%"+v+"%")
	}
	if v, ok := params["mrn"]; ok {
		f.Add("upper(mrn) = upper(?)", v)
	}
	if v, ok := params["gender"]; ok {
		f.Add("gender = ?", v)
	}
	if v, ok := params["active"]; ok {
		f.Add("active = ?", v == "true")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient`+f.Where(), f.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, args := f.Page(limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+patientCols+` FROM patient`+f.Where()+` ORDER BY last_name, first_name, id`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.CollectRows(rows, r.scan)
	return items, total, err
}

// -- Allergy Repository --

type allergyRepoPG struct{ pool *pgxpool.Pool }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository { return &allergyRepoPG{pool: pool} }

const allergyCols = `id, patient_id, substance, reaction, severity, status, noted_at, created_at`

func scanAllergy(row pgx.Row) (*Allergy, error) {
	var a Allergy
	err := row.Scan(&a.ID, &a.PatientID, &a.Substance, &a.Reaction, &a.Severity, &a.Status, &a.NotedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errAllergyNotFound
	}
	return &a, err
}

func (r *allergyRepoPG) Create(ctx context.Context, a *Allergy) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO allergy (id, patient_id, substance, reaction, severity, status, noted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		a.ID, a.PatientID, a.Substance, a.Reaction, a.Severity, a.Status, a.NotedAt,
	).Scan(&a.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return errPatientNotFound
	}
	return err
}

func (r *allergyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Allergy, error) {
	return scanAllergy(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+allergyCols+` FROM allergy WHERE id = $1`, id))
}

func (r *allergyRepoPG) Update(ctx context.Context, a *Allergy) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE allergy SET substance=$2, reaction=$3, severity=$4, status=$5, noted_at=$6
		WHERE id = $1`,
		a.ID, a.Substance, a.Reaction, a.Severity, a.Status, a.NotedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errAllergyNotFound
	}
	return nil
}

func (r *allergyRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM allergy WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errAllergyNotFound
	}
	return nil
}

func (r *allergyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string) ([]*Allergy, error) {
	f := db.Filter{}
	f.Add("patient_id = ?", patientID)
	if status != "" {
		f.Add("status = ?", status)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+allergyCols+` FROM allergy`+f.Where()+` ORDER BY noted_at DESC`, f.Args()...)
	if err != nil {
		return nil, err
	}
	return db.CollectRows(rows, scanAllergy)
}
