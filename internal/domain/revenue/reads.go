package revenue

import (
	"context"

	"github.com/google/uuid"

	"github.com/billerly/rcm/internal/platform/auth"
	"github.com/billerly/rcm/internal/platform/db"
)

// Read operations. These are policy-gated like transitions but never mutate.

func (e *Engine) GetCharge(ctx context.Context, actor auth.Actor, id uuid.UUID) (*ChargeSnapshot, error) {
	c, err := e.getCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.allow(actor, auth.EntityCharge, string(c.Status), auth.ActionRead); err != nil {
		return nil, err
	}
	return e.chargeSnapshot(actor, c), nil
}

func (e *Engine) GetClaim(ctx context.Context, actor auth.Actor, id uuid.UUID) (*ClaimSnapshot, error) {
	c, err := e.getClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.allow(actor, auth.EntityClaim, string(c.Status), auth.ActionRead); err != nil {
		return nil, err
	}
	return e.claimSnapshot(actor, c), nil
}

func (e *Engine) GetDenial(ctx context.Context, actor auth.Actor, id uuid.UUID) (*DenialSnapshot, error) {
	d, err := e.getDenial(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.allow(actor, auth.EntityDenial, string(d.Status), auth.ActionRead); err != nil {
		return nil, err
	}
	return e.denialSnapshot(actor, d), nil
}

func (e *Engine) GetInvoice(ctx context.Context, actor auth.Actor, id uuid.UUID) (*InvoiceSnapshot, error) {
	i, err := e.getInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.allow(actor, auth.EntityInvoice, string(i.Status), auth.ActionRead); err != nil {
		return nil, err
	}
	return e.invoiceSnapshot(actor, i), nil
}

// ClaimHistory returns every claim filed for a charge, oldest first. The
// chain of PredecessorID references preserves the resubmission audit trail.
func (e *Engine) ClaimHistory(ctx context.Context, actor auth.Actor, chargeID uuid.UUID) ([]*ClaimSnapshot, error) {
	if err := e.allow(actor, auth.EntityClaim, string(ClaimSubmitted), auth.ActionRead); err != nil {
		return nil, err
	}
	var claims []*Claim
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		claims, err = e.claims.ListByCharge(ctx, chargeID)
		return err
	}); err != nil {
		return nil, err
	}
	snapshots := make([]*ClaimSnapshot, 0, len(claims))
	for _, c := range claims {
		snapshots = append(snapshots, e.claimSnapshot(actor, c))
	}
	return snapshots, nil
}

func (e *Engine) ListChargesByStatus(ctx context.Context, actor auth.Actor, status ChargeStatus, limit, offset int) ([]*ChargeSnapshot, int, error) {
	if err := e.allow(actor, auth.EntityCharge, string(status), auth.ActionRead); err != nil {
		return nil, 0, err
	}
	var (
		charges []*Charge
		total   int
	)
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		charges, total, err = e.charges.ListByStatus(ctx, status, limit, offset)
		return err
	}); err != nil {
		return nil, 0, err
	}
	snapshots := make([]*ChargeSnapshot, 0, len(charges))
	for _, c := range charges {
		snapshots = append(snapshots, e.chargeSnapshot(actor, c))
	}
	return snapshots, total, nil
}

// ListChargesByEncounter returns every charge billed against one visit,
// regardless of status.
func (e *Engine) ListChargesByEncounter(ctx context.Context, actor auth.Actor, encounterID uuid.UUID, limit, offset int) ([]*ChargeSnapshot, int, error) {
	if err := e.allow(actor, auth.EntityCharge, string(ChargeDraft), auth.ActionRead); err != nil {
		return nil, 0, err
	}
	var (
		charges []*Charge
		total   int
	)
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		charges, total, err = e.charges.ListByEncounter(ctx, encounterID, limit, offset)
		return err
	}); err != nil {
		return nil, 0, err
	}
	snapshots := make([]*ChargeSnapshot, 0, len(charges))
	for _, c := range charges {
		snapshots = append(snapshots, e.chargeSnapshot(actor, c))
	}
	return snapshots, total, nil
}

func (e *Engine) ListClaimsByStatus(ctx context.Context, actor auth.Actor, status ClaimStatus, limit, offset int) ([]*ClaimSnapshot, int, error) {
	if err := e.allow(actor, auth.EntityClaim, string(status), auth.ActionRead); err != nil {
		return nil, 0, err
	}
	var (
		claims []*Claim
		total  int
	)
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		claims, total, err = e.claims.ListByStatus(ctx, status, limit, offset)
		return err
	}); err != nil {
		return nil, 0, err
	}
	snapshots := make([]*ClaimSnapshot, 0, len(claims))
	for _, c := range claims {
		snapshots = append(snapshots, e.claimSnapshot(actor, c))
	}
	return snapshots, total, nil
}

func (e *Engine) ListDenialsByStatus(ctx context.Context, actor auth.Actor, status DenialStatus, limit, offset int) ([]*DenialSnapshot, int, error) {
	if err := e.allow(actor, auth.EntityDenial, string(status), auth.ActionRead); err != nil {
		return nil, 0, err
	}
	var (
		denials []*Denial
		total   int
	)
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		denials, total, err = e.denials.ListByStatus(ctx, status, limit, offset)
		return err
	}); err != nil {
		return nil, 0, err
	}
	snapshots := make([]*DenialSnapshot, 0, len(denials))
	for _, d := range denials {
		snapshots = append(snapshots, e.denialSnapshot(actor, d))
	}
	return snapshots, total, nil
}

func (e *Engine) ListInvoicesByPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID, limit, offset int) ([]*InvoiceSnapshot, int, error) {
	if err := e.allow(actor, auth.EntityInvoice, string(InvoiceUnpaid), auth.ActionRead); err != nil {
		return nil, 0, err
	}
	var (
		invoices []*Invoice
		total    int
	)
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		invoices, total, err = e.invoices.ListByPatient(ctx, patientID, limit, offset)
		return err
	}); err != nil {
		return nil, 0, err
	}
	snapshots := make([]*InvoiceSnapshot, 0, len(invoices))
	for _, i := range invoices {
		snapshots = append(snapshots, e.invoiceSnapshot(actor, i))
	}
	return snapshots, total, nil
}

// OverdueCandidates lists unpaid and partially paid invoices so the
// scheduled check can apply MarkOverdue to the ones past due.
func (e *Engine) OverdueCandidates(ctx context.Context, limit, offset int) ([]*Invoice, error) {
	var out []*Invoice
	for _, status := range []InvoiceStatus{InvoiceUnpaid, InvoicePartiallyPaid} {
		var invoices []*Invoice
		if err := db.WithRetry(ctx, func(ctx context.Context) error {
			var err error
			invoices, _, err = e.invoices.ListByStatus(ctx, status, limit, offset)
			return err
		}); err != nil {
			return nil, err
		}
		out = append(out, invoices...)
	}
	return out, nil
}
