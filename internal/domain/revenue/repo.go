package revenue

import (
	"context"

	"github.com/google/uuid"
)

// Update calls perform a compare-and-swap on (id, status): the write applies
// only if the stored status still equals expected. A false return means a
// concurrent session moved the entity first; the engine surfaces that as
// StaleState.

type ChargeRepository interface {
	Create(ctx context.Context, c *Charge) error
	GetByID(ctx context.Context, id uuid.UUID) (*Charge, error)
	Update(ctx context.Context, c *Charge, expected ChargeStatus) (bool, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Charge, int, error)
	ListByStatus(ctx context.Context, status ChargeStatus, limit, offset int) ([]*Charge, int, error)
}

type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	Update(ctx context.Context, c *Claim, expected ClaimStatus) (bool, error)
	ListByCharge(ctx context.Context, chargeID uuid.UUID) ([]*Claim, error)
	ListByStatus(ctx context.Context, status ClaimStatus, limit, offset int) ([]*Claim, int, error)
}

type DenialRepository interface {
	Create(ctx context.Context, d *Denial) error
	GetByID(ctx context.Context, id uuid.UUID) (*Denial, error)
	GetOpenByClaim(ctx context.Context, claimID uuid.UUID) (*Denial, error)
	Update(ctx context.Context, d *Denial, expected DenialStatus) (bool, error)
	ListByStatus(ctx context.Context, status DenialStatus, limit, offset int) ([]*Denial, int, error)
}

type InvoiceRepository interface {
	Create(ctx context.Context, i *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// AddPayment appends a payment and moves the invoice to newStatus in one
	// atomic write, guarded by the expected status and the remaining patient
	// balance: a write that would push the payments sum past
	// patientResponsibility does not apply and returns false.
	AddPayment(ctx context.Context, id uuid.UUID, p Payment, expected, newStatus InvoiceStatus) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, newStatus InvoiceStatus) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	ListByStatus(ctx context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error)
}
