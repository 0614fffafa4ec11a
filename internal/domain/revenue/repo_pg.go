package revenue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billerly/rcm/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Charge Repository ===========

type chargeRepoPG struct{ pool *pgxpool.Pool }

func NewChargeRepoPG(pool *pgxpool.Pool) ChargeRepository { return &chargeRepoPG{pool: pool} }

const chargeCols = `id, encounter_id, line_items, status, created_at, updated_at`

func scanCharge(row pgx.Row) (*Charge, error) {
	var c Charge
	err := row.Scan(&c.ID, &c.EncounterID, &c.LineItems, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *chargeRepoPG) Create(ctx context.Context, c *Charge) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO charges (id, encounter_id, line_items, status)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.EncounterID, c.LineItems, c.Status)
	return db.NewPersistenceError("create charge", err)
}

func (r *chargeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Charge, error) {
	c, err := scanCharge(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+chargeCols+` FROM charges WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.NewPersistenceError("get charge", err)
	}
	return c, nil
}

func (r *chargeRepoPG) Update(ctx context.Context, c *Charge, expected ChargeStatus) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE charges
		SET line_items = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		c.LineItems, c.Status, c.ID, expected)
	if err != nil {
		return false, db.NewPersistenceError("update charge", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *chargeRepoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Charge, int, error) {
	return r.list(ctx, `encounter_id = $1`, encounterID, limit, offset)
}

func (r *chargeRepoPG) ListByStatus(ctx context.Context, status ChargeStatus, limit, offset int) ([]*Charge, int, error) {
	return r.list(ctx, `status = $1`, status, limit, offset)
}

func (r *chargeRepoPG) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*Charge, int, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM charges WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, db.NewPersistenceError("count charges", err)
	}

	rows, err := q.Query(ctx, `SELECT `+chargeCols+` FROM charges WHERE `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		arg, limit, offset)
	if err != nil {
		return nil, 0, db.NewPersistenceError("list charges", err)
	}
	defer rows.Close()

	var charges []*Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, 0, db.NewPersistenceError("scan charge", err)
		}
		charges = append(charges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.NewPersistenceError("iterate charges", err)
	}
	return charges, total, nil
}

// =========== Claim Repository ===========

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) ClaimRepository { return &claimRepoPG{pool: pool} }

const claimCols = `id, charge_id, predecessor_id, payer, submitted_amount, paid_amount,
	status, denial_id, submitted_at, created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ChargeID, &c.PredecessorID, &c.Payer, &c.SubmittedAmount, &c.PaidAmount,
		&c.Status, &c.DenialID, &c.SubmittedAt, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO claims (id, charge_id, predecessor_id, payer, submitted_amount, paid_amount, status, denial_id, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.ChargeID, c.PredecessorID, c.Payer, c.SubmittedAmount, c.PaidAmount, c.Status, c.DenialID, c.SubmittedAt)
	return db.NewPersistenceError("create claim", err)
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.NewPersistenceError("get claim", err)
	}
	return c, nil
}

func (r *claimRepoPG) Update(ctx context.Context, c *Claim, expected ClaimStatus) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE claims
		SET paid_amount = $1, status = $2, denial_id = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		c.PaidAmount, c.Status, c.DenialID, c.ID, expected)
	if err != nil {
		return false, db.NewPersistenceError("update claim", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *claimRepoPG) ListByCharge(ctx context.Context, chargeID uuid.UUID) ([]*Claim, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+claimCols+` FROM claims WHERE charge_id = $1 ORDER BY created_at`, chargeID)
	if err != nil {
		return nil, db.NewPersistenceError("list claims by charge", err)
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, db.NewPersistenceError("scan claim", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewPersistenceError("iterate claims", err)
	}
	return claims, nil
}

func (r *claimRepoPG) ListByStatus(ctx context.Context, status ClaimStatus, limit, offset int) ([]*Claim, int, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM claims WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, db.NewPersistenceError("count claims", err)
	}

	rows, err := q.Query(ctx, `SELECT `+claimCols+` FROM claims WHERE status = $1 ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, db.NewPersistenceError("list claims", err)
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, db.NewPersistenceError("scan claim", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.NewPersistenceError("iterate claims", err)
	}
	return claims, total, nil
}

// =========== Denial Repository ===========

type denialRepoPG struct{ pool *pgxpool.Pool }

func NewDenialRepoPG(pool *pgxpool.Pool) DenialRepository { return &denialRepoPG{pool: pool} }

const denialCols = `id, claim_id, reason_code, reason_text, appeal_deadline, status, created_at, updated_at`

func scanDenial(row pgx.Row) (*Denial, error) {
	var d Denial
	err := row.Scan(&d.ID, &d.ClaimID, &d.ReasonCode, &d.ReasonText, &d.AppealDeadline, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *denialRepoPG) Create(ctx context.Context, d *Denial) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO denials (id, claim_id, reason_code, reason_text, appeal_deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.ClaimID, d.ReasonCode, d.ReasonText, d.AppealDeadline, d.Status)
	return db.NewPersistenceError("create denial", err)
}

func (r *denialRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Denial, error) {
	d, err := scanDenial(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+denialCols+` FROM denials WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.NewPersistenceError("get denial", err)
	}
	return d, nil
}

func (r *denialRepoPG) GetOpenByClaim(ctx context.Context, claimID uuid.UUID) (*Denial, error) {
	d, err := scanDenial(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+denialCols+` FROM denials WHERE claim_id = $1 AND status = $2`, claimID, DenialOpen))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.NewPersistenceError("get open denial", err)
	}
	return d, nil
}

func (r *denialRepoPG) Update(ctx context.Context, d *Denial, expected DenialStatus) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE denials
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		d.Status, d.ID, expected)
	if err != nil {
		return false, db.NewPersistenceError("update denial", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *denialRepoPG) ListByStatus(ctx context.Context, status DenialStatus, limit, offset int) ([]*Denial, int, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM denials WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, db.NewPersistenceError("count denials", err)
	}

	rows, err := q.Query(ctx, `SELECT `+denialCols+` FROM denials WHERE status = $1 ORDER BY appeal_deadline LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, db.NewPersistenceError("list denials", err)
	}
	defer rows.Close()

	var denials []*Denial
	for rows.Next() {
		d, err := scanDenial(rows)
		if err != nil {
			return nil, 0, db.NewPersistenceError("scan denial", err)
		}
		denials = append(denials, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.NewPersistenceError("iterate denials", err)
	}
	return denials, total, nil
}

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

const invoiceCols = `id, claim_id, patient_id, total_amount, patient_responsibility,
	insurance_responsibility, payments, due_date, status, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var i Invoice
	err := row.Scan(&i.ID, &i.ClaimID, &i.PatientID, &i.TotalAmount, &i.PatientResponsibility,
		&i.InsuranceResponsibility, &i.Payments, &i.DueDate, &i.Status, &i.CreatedAt, &i.UpdatedAt)
	return &i, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, i *Invoice) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.Payments == nil {
		i.Payments = []Payment{}
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO invoices (id, claim_id, patient_id, total_amount, patient_responsibility,
			insurance_responsibility, payments, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		i.ID, i.ClaimID, i.PatientID, i.TotalAmount, i.PatientResponsibility,
		i.InsuranceResponsibility, i.Payments, i.DueDate, i.Status)
	return db.NewPersistenceError("create invoice", err)
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	i, err := scanInvoice(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.NewPersistenceError("get invoice", err)
	}
	return i, nil
}

// AddPayment appends to the payments array and moves the status in a single
// guarded UPDATE, so the payment ledger and status can never diverge. The
// guard covers the remaining balance as well as the expected status: two
// racing payments against a partially_paid invoice both see the same status,
// so the status check alone would let the second one overshoot.
func (r *invoiceRepoPG) AddPayment(ctx context.Context, id uuid.UUID, p Payment, expected, newStatus InvoiceStatus) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE invoices
		SET payments = payments || $1::jsonb, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
		  AND patient_responsibility - (
			SELECT COALESCE(SUM((pay->>'amount')::bigint), 0)
			FROM jsonb_array_elements(payments) AS pay
		  ) >= $5`,
		[]Payment{p}, newStatus, id, expected, p.Amount)
	if err != nil {
		return false, db.NewPersistenceError("add invoice payment", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *invoiceRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, expected, newStatus InvoiceStatus) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		newStatus, id, expected)
	if err != nil {
		return false, db.NewPersistenceError("update invoice status", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *invoiceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return r.list(ctx, `patient_id = $1`, patientID, limit, offset)
}

func (r *invoiceRepoPG) ListByStatus(ctx context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error) {
	return r.list(ctx, `status = $1`, status, limit, offset)
}

func (r *invoiceRepoPG) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*Invoice, int, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, db.NewPersistenceError("count invoices", err)
	}

	rows, err := q.Query(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE `+where+` ORDER BY due_date LIMIT $2 OFFSET $3`,
		arg, limit, offset)
	if err != nil {
		return nil, 0, db.NewPersistenceError("list invoices", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, db.NewPersistenceError("scan invoice", err)
		}
		invoices = append(invoices, i)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.NewPersistenceError("iterate invoices", err)
	}
	return invoices, total, nil
}
