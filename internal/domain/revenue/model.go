package revenue

import (
	"time"

	"github.com/google/uuid"
)

// Cents is a money amount in integer cents. Totals and payment sums must
// compare exactly, which rules out floats.
type Cents int64

// ChargeStatus is the closed status set for charges.
type ChargeStatus string

const (
	ChargeDraft       ChargeStatus = "draft"
	ChargeReadyToBill ChargeStatus = "ready_to_bill"
	ChargeSubmitted   ChargeStatus = "submitted"
)

// LineItem is one billable code with its fee.
type LineItem struct {
	Code string `json:"code"`
	Fee  Cents  `json:"fee"`
}

// Charge is a billable line-item bundle tied to one encounter. TotalAmount
// is always derived from the line items; it is never stored separately, so
// it cannot drift.
type Charge struct {
	ID          uuid.UUID    `json:"id"`
	EncounterID uuid.UUID    `json:"encounter_id"`
	LineItems   []LineItem   `json:"line_items"`
	Status      ChargeStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TotalAmount sums the line-item fees.
func (c *Charge) TotalAmount() Cents {
	var total Cents
	for _, li := range c.LineItems {
		total += li.Fee
	}
	return total
}

// NewCharge constructs a draft charge, validating its line items.
func NewCharge(encounterID uuid.UUID, lineItems []LineItem) (*Charge, error) {
	if encounterID == uuid.Nil {
		return nil, validationErrorf(ValidationMissingField, "encounter_id is required")
	}
	if err := validateLineItems(lineItems); err != nil {
		return nil, err
	}
	return &Charge{
		ID:          uuid.New(),
		EncounterID: encounterID,
		LineItems:   lineItems,
		Status:      ChargeDraft,
	}, nil
}

func validateLineItems(lineItems []LineItem) error {
	for i, li := range lineItems {
		if li.Code == "" {
			return validationErrorf(ValidationBadLineItem, "line item %d has no code", i)
		}
		if li.Fee <= 0 {
			return validationErrorf(ValidationBadLineItem, "line item %d (%s) has non-positive fee", i, li.Code)
		}
	}
	return nil
}

// ClaimStatus is the closed stored status set for claims. "pending" is a
// derived display state, never stored; see IsPending.
type ClaimStatus string

const (
	ClaimSubmitted     ClaimStatus = "submitted"
	ClaimPaid          ClaimStatus = "paid"
	ClaimPartiallyPaid ClaimStatus = "partially_paid"
	ClaimDenied        ClaimStatus = "denied"

	// ClaimPending is returned by DisplayStatus only.
	ClaimPending ClaimStatus = "pending"
)

// Claim is a submission of a charge's billing data to a payer. A
// resubmission creates a new Claim with PredecessorID set; the old one is
// kept for audit.
type Claim struct {
	ID              uuid.UUID   `json:"id"`
	ChargeID        uuid.UUID   `json:"charge_id"`
	PredecessorID   *uuid.UUID  `json:"predecessor_id,omitempty"`
	Payer           string      `json:"payer"`
	SubmittedAmount Cents       `json:"submitted_amount"`
	PaidAmount      Cents       `json:"paid_amount"`
	Status          ClaimStatus `json:"status"`
	DenialID        *uuid.UUID  `json:"denial_id,omitempty"`
	SubmittedAt     time.Time   `json:"submitted_at"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// CheckInvariants verifies the claim's field-level invariants. Called after
// every transition.
func (c *Claim) CheckInvariants() error {
	if c.PaidAmount > c.SubmittedAmount {
		return validationErrorf(ValidationBadAmount, "paid amount %d exceeds submitted amount %d", c.PaidAmount, c.SubmittedAmount)
	}
	if (c.Status == ClaimDenied) != (c.DenialID != nil) {
		return validationErrorf(ValidationBadReference, "denied status and denial reference must agree")
	}
	if c.Status == ClaimPaid && c.PaidAmount != c.SubmittedAmount {
		return validationErrorf(ValidationBadAmount, "paid claim must have paid amount equal to submitted amount")
	}
	if c.Status == ClaimPartiallyPaid && (c.PaidAmount <= 0 || c.PaidAmount >= c.SubmittedAmount) {
		return validationErrorf(ValidationBadAmount, "partially paid claim requires 0 < paid < submitted")
	}
	return nil
}

// IsPending reports whether the claim is submitted with no adjudication
// received within the configured window. Pure; the scheduler collaborator
// decides when to call it.
func (c *Claim) IsPending(now time.Time, window time.Duration) bool {
	return c.Status == ClaimSubmitted && now.After(c.SubmittedAt.Add(window))
}

// DisplayStatus maps a stale submitted claim to the pending display state.
func (c *Claim) DisplayStatus(now time.Time, window time.Duration) ClaimStatus {
	if c.IsPending(now, window) {
		return ClaimPending
	}
	return c.Status
}

// DenialStatus is the closed status set for denials.
type DenialStatus string

const (
	DenialOpen               DenialStatus = "open"
	DenialAppealSubmitted    DenialStatus = "appeal_submitted"
	DenialAppealRejected     DenialStatus = "appeal_rejected"
	DenialResolved           DenialStatus = "resolved"
	DenialCorrectedClaimSent DenialStatus = "corrected_claim_sent"
)

// Denial is a payer's refusal to pay a claim, carrying the reason and the
// appeal window. At most one denial is open per claim.
type Denial struct {
	ID             uuid.UUID    `json:"id"`
	ClaimID        uuid.UUID    `json:"claim_id"`
	ReasonCode     string       `json:"reason_code"`
	ReasonText     string       `json:"reason_text"`
	AppealDeadline time.Time    `json:"appeal_deadline"`
	Status         DenialStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// InvoiceStatus is the closed status set for invoices.
type InvoiceStatus string

const (
	InvoiceUnpaid        InvoiceStatus = "unpaid"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
)

// Payment is one posted payment against an invoice.
type Payment struct {
	Date   time.Time `json:"date"`
	Amount Cents     `json:"amount"`
	Method string    `json:"method"`
}

// Invoice is the patient-facing statement. It may derive from a claim's
// resolution or exist independently for self-pay.
type Invoice struct {
	ID                      uuid.UUID     `json:"id"`
	ClaimID                 *uuid.UUID    `json:"claim_id,omitempty"`
	PatientID               uuid.UUID     `json:"patient_id"`
	TotalAmount             Cents         `json:"total_amount"`
	PatientResponsibility   Cents         `json:"patient_responsibility"`
	InsuranceResponsibility Cents         `json:"insurance_responsibility"`
	Payments                []Payment     `json:"payments"`
	DueDate                 time.Time     `json:"due_date"`
	Status                  InvoiceStatus `json:"status"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// NewInvoice constructs an unpaid invoice, rejecting inconsistent totals.
func NewInvoice(claimID *uuid.UUID, patientID uuid.UUID, total, patientResp, insuranceResp Cents, dueDate time.Time) (*Invoice, error) {
	if patientID == uuid.Nil {
		return nil, validationErrorf(ValidationMissingField, "patient_id is required")
	}
	if total < 0 || patientResp < 0 || insuranceResp < 0 {
		return nil, validationErrorf(ValidationBadAmount, "amounts must be non-negative")
	}
	if patientResp+insuranceResp != total {
		return nil, validationErrorf(ValidationInconsistentTotals,
			"patient responsibility %d + insurance responsibility %d != total %d", patientResp, insuranceResp, total)
	}
	return &Invoice{
		ID:                      uuid.New(),
		ClaimID:                 claimID,
		PatientID:               patientID,
		TotalAmount:             total,
		PatientResponsibility:   patientResp,
		InsuranceResponsibility: insuranceResp,
		DueDate:                 dueDate,
		Status:                  InvoiceUnpaid,
	}, nil
}

// PaidToDate sums the posted payments.
func (i *Invoice) PaidToDate() Cents {
	var total Cents
	for _, p := range i.Payments {
		total += p.Amount
	}
	return total
}

// Balance is the patient responsibility still outstanding.
func (i *Invoice) Balance() Cents {
	return i.PatientResponsibility - i.PaidToDate()
}

// IsPaid reports whether the posted payments cover the patient
// responsibility exactly.
func (i *Invoice) IsPaid() bool {
	return i.PaidToDate() == i.PatientResponsibility
}

// IsOverdue reports whether the invoice is past due with a balance
// outstanding. Pure; the scheduler collaborator decides when to call it and
// applies MarkOverdue through the engine.
func IsOverdue(i *Invoice, now time.Time) bool {
	if i.Status == InvoicePaid {
		return false
	}
	return now.After(i.DueDate) && i.Balance() > 0
}
