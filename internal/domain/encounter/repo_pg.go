package encounter

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billerly/rcm/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const encCols = `id, patient_id, provider_id, service_date, diagnosis_codes, procedure_codes,
	coding_status, notes, created_at, updated_at`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.PatientID, &e.ProviderID, &e.ServiceDate, &e.DiagnosisCodes, &e.ProcedureCodes,
		&e.CodingStatus, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO encounters (id, patient_id, provider_id, service_date, diagnosis_codes,
			procedure_codes, coding_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.PatientID, e.ProviderID, e.ServiceDate, e.DiagnosisCodes,
		e.ProcedureCodes, e.CodingStatus, e.Notes)
	return db.NewPersistenceError("create encounter", err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := scanEncounter(r.pool.QueryRow(ctx, `SELECT `+encCols+` FROM encounters WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.NewPersistenceError("get encounter", err)
	}
	return e, nil
}

func (r *repoPG) Update(ctx context.Context, e *Encounter) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE encounters
		SET diagnosis_codes = $1, procedure_codes = $2, coding_status = $3, notes = $4, updated_at = NOW()
		WHERE id = $5`,
		e.DiagnosisCodes, e.ProcedureCodes, e.CodingStatus, e.Notes, e.ID)
	return db.NewPersistenceError("update encounter", err)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM encounters WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, db.NewPersistenceError("count encounters", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+encCols+` FROM encounters
		WHERE patient_id = $1 ORDER BY service_date DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, db.NewPersistenceError("list encounters", err)
	}
	defer rows.Close()
	return collectEncounters(rows, total)
}

func (r *repoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM encounters WHERE provider_id = $1`, providerID).Scan(&total); err != nil {
		return nil, 0, db.NewPersistenceError("count encounters by provider", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+encCols+` FROM encounters
		WHERE provider_id = $1 ORDER BY service_date DESC LIMIT $2 OFFSET $3`,
		providerID, limit, offset)
	if err != nil {
		return nil, 0, db.NewPersistenceError("list encounters by provider", err)
	}
	defer rows.Close()
	return collectEncounters(rows, total)
}

func (r *repoPG) ListByCodingStatus(ctx context.Context, status CodingStatus, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM encounters WHERE coding_status = $1`, status).Scan(&total); err != nil {
		return nil, 0, db.NewPersistenceError("count encounters by coding status", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+encCols+` FROM encounters
		WHERE coding_status = $1 ORDER BY service_date LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, db.NewPersistenceError("list encounters by coding status", err)
	}
	defer rows.Close()
	return collectEncounters(rows, total)
}

func collectEncounters(rows pgx.Rows, total int) ([]*Encounter, int, error) {
	var encounters []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, 0, db.NewPersistenceError("scan encounter", err)
		}
		encounters = append(encounters, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.NewPersistenceError("iterate encounters", err)
	}
	return encounters, total, nil
}
