package revenue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/billerly/rcm/internal/platform/auth"
	"github.com/billerly/rcm/internal/platform/db"
	"github.com/billerly/rcm/internal/platform/metrics"
)

// Engine validates and applies entity state transitions. Every mutation goes
// through here: each transition checks the actor's policy grant, then
// performs a compare-and-swap on the entity's (id, status) pair so
// concurrent sessions never overwrite each other.
type Engine struct {
	charges  ChargeRepository
	claims   ClaimRepository
	denials  DenialRepository
	invoices InvoiceRepository
	tx       db.TxManager

	adjudicationWindow time.Duration
	appealWindow       time.Duration

	metrics *metrics.Collector
	logger  zerolog.Logger
	now     func() time.Time
}

// DefaultAppealWindow is how long after a denial an appeal may be filed when
// the payer does not state a deadline.
const DefaultAppealWindow = 30 * 24 * time.Hour

type EngineConfig struct {
	AdjudicationWindow time.Duration
	AppealWindow       time.Duration
}

func NewEngine(charges ChargeRepository, claims ClaimRepository, denials DenialRepository, invoices InvoiceRepository, tx db.TxManager, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.AppealWindow <= 0 {
		cfg.AppealWindow = DefaultAppealWindow
	}
	return &Engine{
		charges:            charges,
		claims:             claims,
		denials:            denials,
		invoices:           invoices,
		tx:                 tx,
		adjudicationWindow: cfg.AdjudicationWindow,
		appealWindow:       cfg.AppealWindow,
		logger:             logger,
		now:                time.Now,
	}
}

// SetMetrics attaches an optional metrics collector.
func (e *Engine) SetMetrics(m *metrics.Collector) { e.metrics = m }

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// AdjudicationWindow returns the configured pending-display window.
func (e *Engine) AdjudicationWindow() time.Duration { return e.adjudicationWindow }

func (e *Engine) allow(actor auth.Actor, entity auth.Entity, status string, action auth.Action) error {
	if auth.Allowed(actor.Role, entity, status, action) {
		return nil
	}
	return &PolicyError{Role: actor.Role, Entity: entity, Action: action}
}

func (e *Engine) recordTransition(entity auth.Entity, action auth.Action) {
	if e.metrics != nil {
		e.metrics.RecordTransition(string(entity), string(action))
	}
}

func (e *Engine) recordError(entity auth.Entity, err error) error {
	if e.metrics != nil {
		if code := LifecycleCode(err); code != "" {
			e.metrics.RecordTransitionError(string(entity), code)
		}
	}
	return err
}

// ChargeSnapshot is a charge plus the actions the acting role may take next.
type ChargeSnapshot struct {
	Charge         *Charge       `json:"charge"`
	TotalAmount    Cents         `json:"total_amount"`
	AllowedActions []auth.Action `json:"allowed_actions"`
}

func (e *Engine) chargeSnapshot(actor auth.Actor, c *Charge) *ChargeSnapshot {
	return &ChargeSnapshot{
		Charge:         c,
		TotalAmount:    c.TotalAmount(),
		AllowedActions: auth.PermittedActions(actor.Role, auth.EntityCharge, string(c.Status)),
	}
}

// ClaimSnapshot is a claim plus its display status and allowed actions.
type ClaimSnapshot struct {
	Claim          *Claim        `json:"claim"`
	DisplayStatus  ClaimStatus   `json:"display_status"`
	AllowedActions []auth.Action `json:"allowed_actions"`
}

func (e *Engine) claimSnapshot(actor auth.Actor, c *Claim) *ClaimSnapshot {
	return &ClaimSnapshot{
		Claim:          c,
		DisplayStatus:  c.DisplayStatus(e.now(), e.adjudicationWindow),
		AllowedActions: auth.PermittedActions(actor.Role, auth.EntityClaim, string(c.Status)),
	}
}

type DenialSnapshot struct {
	Denial         *Denial       `json:"denial"`
	AllowedActions []auth.Action `json:"allowed_actions"`
}

func (e *Engine) denialSnapshot(actor auth.Actor, d *Denial) *DenialSnapshot {
	return &DenialSnapshot{
		Denial:         d,
		AllowedActions: auth.PermittedActions(actor.Role, auth.EntityDenial, string(d.Status)),
	}
}

type InvoiceSnapshot struct {
	Invoice        *Invoice      `json:"invoice"`
	Balance        Cents         `json:"balance"`
	AllowedActions []auth.Action `json:"allowed_actions"`
}

func (e *Engine) invoiceSnapshot(actor auth.Actor, i *Invoice) *InvoiceSnapshot {
	return &InvoiceSnapshot{
		Invoice:        i,
		Balance:        i.Balance(),
		AllowedActions: auth.PermittedActions(actor.Role, auth.EntityInvoice, string(i.Status)),
	}
}

// ---- Charge transitions ----

// CreateCharge opens a draft charge against an encounter.
func (e *Engine) CreateCharge(ctx context.Context, actor auth.Actor, encounterID uuid.UUID, lineItems []LineItem) (*ChargeSnapshot, error) {
	if err := e.allow(actor, auth.EntityCharge, string(ChargeDraft), auth.ActionCreate); err != nil {
		return nil, err
	}
	c, err := NewCharge(encounterID, lineItems)
	if err != nil {
		return nil, err
	}
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		return e.charges.Create(ctx, c)
	}); err != nil {
		return nil, err
	}
	e.recordTransition(auth.EntityCharge, auth.ActionCreate)
	e.logger.Info().Str("charge_id", c.ID.String()).Msg("charge created")
	return e.chargeSnapshot(actor, c), nil
}

// UpdateChargeLines replaces the line items on a draft charge. Finalized
// charges are immutable. A non-empty expected status that no longer matches
// the stored one fails with StaleState, like every transition here.
func (e *Engine) UpdateChargeLines(ctx context.Context, actor auth.Actor, chargeID uuid.UUID, lineItems []LineItem, expected ChargeStatus) (*ChargeSnapshot, error) {
	c, err := e.getCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if expected != "" && expected != c.Status {
		return nil, e.recordError(auth.EntityCharge, ErrStaleState(auth.EntityCharge, c.ID.String()))
	}
	if err := e.allow(actor, auth.EntityCharge, string(c.Status), auth.ActionEdit); err != nil {
		return nil, err
	}
	if c.Status != ChargeDraft {
		return nil, e.recordError(auth.EntityCharge, ErrInvalidTransition(auth.EntityCharge, string(c.Status), "edit"))
	}
	if err := validateLineItems(lineItems); err != nil {
		return nil, err
	}

	c.LineItems = lineItems
	if err := e.casCharge(ctx, c, ChargeDraft); err != nil {
		return nil, err
	}
	e.recordTransition(auth.EntityCharge, auth.ActionEdit)
	return e.chargeSnapshot(actor, c), nil
}

// FinalizeCharge moves a coded draft to ready_to_bill. A charge with no line
// items fails with IncompleteCoding.
func (e *Engine) FinalizeCharge(ctx context.Context, actor auth.Actor, chargeID uuid.UUID, expected ChargeStatus) (*ChargeSnapshot, error) {
	c, err := e.getCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if expected != "" && expected != c.Status {
		return nil, e.recordError(auth.EntityCharge, ErrStaleState(auth.EntityCharge, c.ID.String()))
	}
	if err := e.allow(actor, auth.EntityCharge, string(c.Status), auth.ActionFinalize); err != nil {
		return nil, err
	}
	if c.Status != ChargeDraft {
		return nil, e.recordError(auth.EntityCharge, ErrInvalidTransition(auth.EntityCharge, string(c.Status), "finalize"))
	}
	if len(c.LineItems) == 0 {
		return nil, e.recordError(auth.EntityCharge, ErrIncompleteCoding())
	}

	c.Status = ChargeReadyToBill
	if err := e.casCharge(ctx, c, ChargeDraft); err != nil {
		return nil, err
	}
	e.recordTransition(auth.EntityCharge, auth.ActionFinalize)
	e.logger.Info().Str("charge_id", c.ID.String()).Int64("total", int64(c.TotalAmount())).Msg("charge finalized")
	return e.chargeSnapshot(actor, c), nil
}

// SubmitCharge sends a ready_to_bill charge to the payer, creating its claim
// in the same transaction.
func (e *Engine) SubmitCharge(ctx context.Context, actor auth.Actor, chargeID uuid.UUID, payer string, expected ChargeStatus) (*ChargeSnapshot, *ClaimSnapshot, error) {
	if payer == "" {
		return nil, nil, validationErrorf(ValidationMissingField, "payer is required")
	}

	c, err := e.getCharge(ctx, chargeID)
	if err != nil {
		return nil, nil, err
	}
	if expected != "" && expected != c.Status {
		return nil, nil, e.recordError(auth.EntityCharge, ErrStaleState(auth.EntityCharge, c.ID.String()))
	}
	if err := e.allow(actor, auth.EntityCharge, string(c.Status), auth.ActionSubmit); err != nil {
		return nil, nil, err
	}
	if c.Status != ChargeReadyToBill {
		return nil, nil, e.recordError(auth.EntityCharge, ErrInvalidTransition(auth.EntityCharge, string(c.Status), "submit"))
	}

	now := e.now()
	claim := &Claim{
		ID:              uuid.New(),
		ChargeID:        c.ID,
		Payer:           payer,
		SubmittedAmount: c.TotalAmount(),
		Status:          ClaimSubmitted,
		SubmittedAt:     now,
	}

	c.Status = ChargeSubmitted
	err = db.WithRetry(ctx, func(ctx context.Context) error {
		return e.tx.WithinTx(ctx, func(ctx context.Context) error {
			swapped, err := e.charges.Update(ctx, c, ChargeReadyToBill)
			if err != nil {
				return err
			}
			if !swapped {
				return ErrStaleState(auth.EntityCharge, c.ID.String())
			}
			return e.claims.Create(ctx, claim)
		})
	})
	if err != nil {
		return nil, nil, e.recordError(auth.EntityCharge, err)
	}

	e.recordTransition(auth.EntityCharge, auth.ActionSubmit)
	e.logger.Info().
		Str("charge_id", c.ID.String()).
		Str("claim_id", claim.ID.String()).
		Str("payer", payer).
		Msg("charge submitted")
	return e.chargeSnapshot(actor, c), e.claimSnapshot(actor, claim), nil
}

// ---- Claim transitions ----

// AdjudicationOutcome is the payer's decision on a claim.
type AdjudicationOutcome string

const (
	OutcomePaid    AdjudicationOutcome = "paid"
	OutcomePartial AdjudicationOutcome = "partial"
	OutcomeDeny    AdjudicationOutcome = "deny"
)

// Adjudication carries the payer decision payload. ExpectedStatus is the
// status the caller last read; when set, a claim moved by another session in
// the meantime fails with StaleState instead of InvalidTransition.
type Adjudication struct {
	Outcome        AdjudicationOutcome `json:"outcome"`
	PaidAmount     Cents               `json:"paid_amount,omitempty"`
	ReasonCode     string              `json:"reason_code,omitempty"`
	ReasonText     string              `json:"reason_text,omitempty"`
	AppealDeadline *time.Time          `json:"appeal_deadline,omitempty"`
	ExpectedStatus ClaimStatus         `json:"expected_status,omitempty"`
}

// AdjudicateClaim applies a payer decision to a submitted claim. Denial
// opens a Denial record in the same transaction.
func (e *Engine) AdjudicateClaim(ctx context.Context, actor auth.Actor, claimID uuid.UUID, adj Adjudication) (*ClaimSnapshot, *DenialSnapshot, error) {
	claim, err := e.getClaim(ctx, claimID)
	if err != nil {
		return nil, nil, err
	}
	if adj.ExpectedStatus != "" && adj.ExpectedStatus != claim.Status {
		return nil, nil, e.recordError(auth.EntityClaim, ErrStaleState(auth.EntityClaim, claim.ID.String()))
	}
	if err := e.allow(actor, auth.EntityClaim, string(claim.Status), auth.ActionAdjudicate); err != nil {
		return nil, nil, err
	}
	if claim.Status != ClaimSubmitted {
		return nil, nil, e.recordError(auth.EntityClaim, ErrInvalidTransition(auth.EntityClaim, string(claim.Status), "adjudicate"))
	}

	var denial *Denial
	switch adj.Outcome {
	case OutcomePaid:
		claim.Status = ClaimPaid
		claim.PaidAmount = claim.SubmittedAmount
	case OutcomePartial:
		if adj.PaidAmount <= 0 || adj.PaidAmount >= claim.SubmittedAmount {
			return nil, nil, validationErrorf(ValidationBadAmount,
				"partial payment must be strictly between 0 and %d, got %d", claim.SubmittedAmount, adj.PaidAmount)
		}
		claim.Status = ClaimPartiallyPaid
		claim.PaidAmount = adj.PaidAmount
	case OutcomeDeny:
		if adj.ReasonCode == "" {
			return nil, nil, validationErrorf(ValidationMissingField, "denial reason code is required")
		}
		deadline := e.now().Add(e.appealWindow)
		if adj.AppealDeadline != nil {
			deadline = *adj.AppealDeadline
		}
		denial = &Denial{
			ID:             uuid.New(),
			ClaimID:        claim.ID,
			ReasonCode:     adj.ReasonCode,
			ReasonText:     adj.ReasonText,
			AppealDeadline: deadline,
			Status:         DenialOpen,
		}
		claim.Status = ClaimDenied
		claim.DenialID = &denial.ID
	default:
		return nil, nil, validationErrorf(ValidationMissingField, "unknown adjudication outcome %q", adj.Outcome)
	}

	if err := claim.CheckInvariants(); err != nil {
		return nil, nil, err
	}

	if denial != nil {
		// An open denial already attached to this claim means another
		// session denied it first; fail with StaleState rather than
		// tripping the unique index on open denials.
		var open *Denial
		if err := db.WithRetry(ctx, func(ctx context.Context) error {
			var err error
			open, err = e.denials.GetOpenByClaim(ctx, claim.ID)
			return err
		}); err != nil {
			return nil, nil, err
		}
		if open != nil {
			return nil, nil, e.recordError(auth.EntityClaim, ErrStaleState(auth.EntityClaim, claim.ID.String()))
		}
	}

	err = db.WithRetry(ctx, func(ctx context.Context) error {
		return e.tx.WithinTx(ctx, func(ctx context.Context) error {
			swapped, err := e.claims.Update(ctx, claim, ClaimSubmitted)
			if err != nil {
				return err
			}
			if !swapped {
				return ErrStaleState(auth.EntityClaim, claim.ID.String())
			}
			if denial != nil {
				return e.denials.Create(ctx, denial)
			}
			return nil
		})
	})
	if err != nil {
		return nil, nil, e.recordError(auth.EntityClaim, err)
	}

	e.recordTransition(auth.EntityClaim, auth.ActionAdjudicate)
	evt := e.logger.Info().Str("claim_id", claim.ID.String()).Str("outcome", string(adj.Outcome))
	var denialSnap *DenialSnapshot
	if denial != nil {
		if e.metrics != nil {
			e.metrics.RecordDenialOpened(denial.ReasonCode)
		}
		evt = evt.Str("denial_id", denial.ID.String()).Str("reason_code", denial.ReasonCode)
		denialSnap = e.denialSnapshot(actor, denial)
	}
	evt.Msg("claim adjudicated")
	return e.claimSnapshot(actor, claim), denialSnap, nil
}

// ---- Denial transitions ----

// SubmitAppeal files an appeal on an open denial before its deadline.
func (e *Engine) SubmitAppeal(ctx context.Context, actor auth.Actor, denialID uuid.UUID, expected DenialStatus) (*DenialSnapshot, error) {
	d, err := e.getDenial(ctx, denialID)
	if err != nil {
		return nil, err
	}
	if expected != "" && expected != d.Status {
		return nil, e.recordError(auth.EntityDenial, ErrStaleState(auth.EntityDenial, d.ID.String()))
	}
	if err := e.allow(actor, auth.EntityDenial, string(d.Status), auth.ActionAppeal); err != nil {
		return nil, err
	}
	if d.Status != DenialOpen {
		return nil, e.recordError(auth.EntityDenial, ErrInvalidTransition(auth.EntityDenial, string(d.Status), "submit_appeal"))
	}
	if e.now().After(d.AppealDeadline) {
		return nil, e.recordError(auth.EntityDenial, ErrDeadlinePassed(d.AppealDeadline.Format(time.RFC3339)))
	}

	d.Status = DenialAppealSubmitted
	if err := e.casDenial(ctx, d, DenialOpen); err != nil {
		return nil, err
	}
	e.recordTransition(auth.EntityDenial, auth.ActionAppeal)
	e.logger.Info().Str("denial_id", d.ID.String()).Msg("appeal submitted")
	return e.denialSnapshot(actor, d), nil
}

// PayerDecision records the payer's ruling on a submitted appeal. Approval
// resolves the denial and re-adjudicates a fresh claim with the approved
// amount; rejection is terminal.
func (e *Engine) PayerDecision(ctx context.Context, actor auth.Actor, denialID uuid.UUID, approve bool, paidAmount Cents, expected DenialStatus) (*DenialSnapshot, *ClaimSnapshot, error) {
	d, err := e.getDenial(ctx, denialID)
	if err != nil {
		return nil, nil, err
	}
	if expected != "" && expected != d.Status {
		return nil, nil, e.recordError(auth.EntityDenial, ErrStaleState(auth.EntityDenial, d.ID.String()))
	}
	if err := e.allow(actor, auth.EntityDenial, string(d.Status), auth.ActionDecide); err != nil {
		return nil, nil, err
	}
	if d.Status != DenialAppealSubmitted {
		return nil, nil, e.recordError(auth.EntityDenial, ErrInvalidTransition(auth.EntityDenial, string(d.Status), "payer_decision"))
	}

	if !approve {
		d.Status = DenialAppealRejected
		if err := e.casDenial(ctx, d, DenialAppealSubmitted); err != nil {
			return nil, nil, err
		}
		e.recordTransition(auth.EntityDenial, auth.ActionDecide)
		e.logger.Info().Str("denial_id", d.ID.String()).Msg("appeal rejected")
		return e.denialSnapshot(actor, d), nil, nil
	}

	original, err := e.getClaim(ctx, d.ClaimID)
	if err != nil {
		return nil, nil, err
	}
	if paidAmount <= 0 || paidAmount > original.SubmittedAmount {
		return nil, nil, validationErrorf(ValidationBadAmount,
			"approved amount must be in (0, %d], got %d", original.SubmittedAmount, paidAmount)
	}

	status := ClaimPaid
	if paidAmount < original.SubmittedAmount {
		status = ClaimPartiallyPaid
	}
	fresh := &Claim{
		ID:              uuid.New(),
		ChargeID:        original.ChargeID,
		PredecessorID:   &original.ID,
		Payer:           original.Payer,
		SubmittedAmount: original.SubmittedAmount,
		PaidAmount:      paidAmount,
		Status:          status,
		SubmittedAt:     e.now(),
	}
	if err := fresh.CheckInvariants(); err != nil {
		return nil, nil, err
	}

	d.Status = DenialResolved
	err = db.WithRetry(ctx, func(ctx context.Context) error {
		return e.tx.WithinTx(ctx, func(ctx context.Context) error {
			swapped, err := e.denials.Update(ctx, d, DenialAppealSubmitted)
			if err != nil {
				return err
			}
			if !swapped {
				return ErrStaleState(auth.EntityDenial, d.ID.String())
			}
			return e.claims.Create(ctx, fresh)
		})
	})
	if err != nil {
		return nil, nil, e.recordError(auth.EntityDenial, err)
	}

	e.recordTransition(auth.EntityDenial, auth.ActionDecide)
	e.logger.Info().
		Str("denial_id", d.ID.String()).
		Str("claim_id", fresh.ID.String()).
		Int64("paid_amount", int64(paidAmount)).
		Msg("appeal approved")
	return e.denialSnapshot(actor, d), e.claimSnapshot(actor, fresh), nil
}

// CorrectAndResubmit closes an open denial by sending a corrected claim. The
// denied claim is never mutated; the fresh claim records its predecessor for
// the audit trail.
func (e *Engine) CorrectAndResubmit(ctx context.Context, actor auth.Actor, denialID uuid.UUID, expected DenialStatus) (*DenialSnapshot, *ClaimSnapshot, error) {
	d, err := e.getDenial(ctx, denialID)
	if err != nil {
		return nil, nil, err
	}
	if expected != "" && expected != d.Status {
		return nil, nil, e.recordError(auth.EntityDenial, ErrStaleState(auth.EntityDenial, d.ID.String()))
	}
	if err := e.allow(actor, auth.EntityDenial, string(d.Status), auth.ActionResubmit); err != nil {
		return nil, nil, err
	}
	if d.Status != DenialOpen {
		return nil, nil, e.recordError(auth.EntityDenial, ErrInvalidTransition(auth.EntityDenial, string(d.Status), "correct_and_resubmit"))
	}

	original, err := e.getClaim(ctx, d.ClaimID)
	if err != nil {
		return nil, nil, err
	}

	fresh := &Claim{
		ID:              uuid.New(),
		ChargeID:        original.ChargeID,
		PredecessorID:   &original.ID,
		Payer:           original.Payer,
		SubmittedAmount: original.SubmittedAmount,
		Status:          ClaimSubmitted,
		SubmittedAt:     e.now(),
	}

	d.Status = DenialCorrectedClaimSent
	err = db.WithRetry(ctx, func(ctx context.Context) error {
		return e.tx.WithinTx(ctx, func(ctx context.Context) error {
			swapped, err := e.denials.Update(ctx, d, DenialOpen)
			if err != nil {
				return err
			}
			if !swapped {
				return ErrStaleState(auth.EntityDenial, d.ID.String())
			}
			return e.claims.Create(ctx, fresh)
		})
	})
	if err != nil {
		return nil, nil, e.recordError(auth.EntityDenial, err)
	}

	e.recordTransition(auth.EntityDenial, auth.ActionResubmit)
	e.logger.Info().
		Str("denial_id", d.ID.String()).
		Str("claim_id", fresh.ID.String()).
		Msg("corrected claim sent")
	return e.denialSnapshot(actor, d), e.claimSnapshot(actor, fresh), nil
}

// ---- Invoice transitions ----

// CreateInvoice opens an unpaid invoice.
func (e *Engine) CreateInvoice(ctx context.Context, actor auth.Actor, claimID *uuid.UUID, patientID uuid.UUID, total, patientResp, insuranceResp Cents, dueDate time.Time) (*InvoiceSnapshot, error) {
	if err := e.allow(actor, auth.EntityInvoice, string(InvoiceUnpaid), auth.ActionCreate); err != nil {
		return nil, err
	}
	inv, err := NewInvoice(claimID, patientID, total, patientResp, insuranceResp, dueDate)
	if err != nil {
		return nil, err
	}
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		return e.invoices.Create(ctx, inv)
	}); err != nil {
		return nil, err
	}
	e.recordTransition(auth.EntityInvoice, auth.ActionCreate)
	return e.invoiceSnapshot(actor, inv), nil
}

// RecordPayment posts a payment against an invoice. A payment that would
// overshoot the patient responsibility is rejected with OverPayment and
// leaves the ledger untouched; overdue invoices still accept payments.
func (e *Engine) RecordPayment(ctx context.Context, actor auth.Actor, invoiceID uuid.UUID, amount Cents, method string, expected InvoiceStatus) (*InvoiceSnapshot, error) {
	if amount <= 0 {
		return nil, validationErrorf(ValidationBadAmount, "payment amount must be positive, got %d", amount)
	}
	if method == "" {
		return nil, validationErrorf(ValidationMissingField, "payment method is required")
	}

	inv, err := e.getInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if expected != "" && expected != inv.Status {
		return nil, e.recordError(auth.EntityInvoice, ErrStaleState(auth.EntityInvoice, inv.ID.String()))
	}
	if err := e.allow(actor, auth.EntityInvoice, string(inv.Status), auth.ActionRecordPayment); err != nil {
		return nil, err
	}

	// The overshoot check comes before the source-state check: a settled
	// invoice has no balance left, so paying it is an OverPayment, not an
	// invalid transition.
	remaining := inv.Balance()
	if amount > remaining {
		return nil, e.recordError(auth.EntityInvoice, ErrOverPayment(int64(amount), int64(remaining)))
	}

	switch inv.Status {
	case InvoiceUnpaid, InvoicePartiallyPaid, InvoiceOverdue:
	default:
		return nil, e.recordError(auth.EntityInvoice, ErrInvalidTransition(auth.EntityInvoice, string(inv.Status), "record_payment"))
	}

	payment := Payment{Date: e.now(), Amount: amount, Method: method}
	newStatus := InvoicePartiallyPaid
	if amount == remaining {
		newStatus = InvoicePaid
	}

	err = db.WithRetry(ctx, func(ctx context.Context) error {
		swapped, err := e.invoices.AddPayment(ctx, inv.ID, payment, inv.Status, newStatus)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrStaleState(auth.EntityInvoice, inv.ID.String())
		}
		return nil
	})
	if err != nil {
		return nil, e.recordError(auth.EntityInvoice, err)
	}

	inv.Payments = append(inv.Payments, payment)
	inv.Status = newStatus
	if e.metrics != nil {
		e.metrics.RecordPayment(int64(amount))
	}
	e.recordTransition(auth.EntityInvoice, auth.ActionRecordPayment)
	e.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Int64("amount", int64(amount)).
		Str("method", method).
		Str("status", string(newStatus)).
		Msg("payment recorded")
	return e.invoiceSnapshot(actor, inv), nil
}

// MarkOverdue flips an unpaid or partially paid invoice past its due date to
// overdue. Invoked by the scheduled check, not a user gesture, so it takes
// no actor.
func (e *Engine) MarkOverdue(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	inv, err := e.getInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	switch inv.Status {
	case InvoiceUnpaid, InvoicePartiallyPaid:
	default:
		return nil, e.recordError(auth.EntityInvoice, ErrInvalidTransition(auth.EntityInvoice, string(inv.Status), "mark_overdue"))
	}
	if !IsOverdue(inv, e.now()) {
		return nil, e.recordError(auth.EntityInvoice, ErrInvalidTransition(auth.EntityInvoice, string(inv.Status), "mark_overdue"))
	}

	expected := inv.Status
	err = db.WithRetry(ctx, func(ctx context.Context) error {
		swapped, err := e.invoices.UpdateStatus(ctx, inv.ID, expected, InvoiceOverdue)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrStaleState(auth.EntityInvoice, inv.ID.String())
		}
		return nil
	})
	if err != nil {
		return nil, e.recordError(auth.EntityInvoice, err)
	}

	inv.Status = InvoiceOverdue
	e.recordTransition(auth.EntityInvoice, auth.ActionMarkOverdue)
	e.logger.Info().Str("invoice_id", inv.ID.String()).Msg("invoice marked overdue")
	return inv, nil
}

// ---- lookups and CAS helpers ----

func (e *Engine) getCharge(ctx context.Context, id uuid.UUID) (*Charge, error) {
	var c *Charge
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		c, err = e.charges.GetByID(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &NotFoundError{Entity: auth.EntityCharge, ID: id.String()}
	}
	return c, nil
}

func (e *Engine) getClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	var c *Claim
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		c, err = e.claims.GetByID(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &NotFoundError{Entity: auth.EntityClaim, ID: id.String()}
	}
	return c, nil
}

func (e *Engine) getDenial(ctx context.Context, id uuid.UUID) (*Denial, error) {
	var d *Denial
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		d, err = e.denials.GetByID(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &NotFoundError{Entity: auth.EntityDenial, ID: id.String()}
	}
	return d, nil
}

func (e *Engine) getInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var i *Invoice
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		i, err = e.invoices.GetByID(ctx, id)
		return err
	}); err != nil {
		return nil, err
	}
	if i == nil {
		return nil, &NotFoundError{Entity: auth.EntityInvoice, ID: id.String()}
	}
	return i, nil
}

func (e *Engine) casCharge(ctx context.Context, c *Charge, expected ChargeStatus) error {
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		swapped, err := e.charges.Update(ctx, c, expected)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrStaleState(auth.EntityCharge, c.ID.String())
		}
		return nil
	})
	return e.recordError(auth.EntityCharge, err)
}

func (e *Engine) casDenial(ctx context.Context, d *Denial, expected DenialStatus) error {
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		swapped, err := e.denials.Update(ctx, d, expected)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrStaleState(auth.EntityDenial, d.ID.String())
		}
		return nil
	})
	return e.recordError(auth.EntityDenial, err)
}
