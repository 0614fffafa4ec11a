package revenue

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewCharge_Validation(t *testing.T) {
	if _, err := NewCharge(uuid.Nil, []LineItem{{Code: "99213", Fee: 9500}}); err == nil {
		t.Error("expected error for missing encounter")
	}

	cases := []struct {
		name  string
		items []LineItem
	}{
		{"empty code", []LineItem{{Code: "", Fee: 9500}}},
		{"negative fee", []LineItem{{Code: "99213", Fee: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCharge(uuid.New(), tc.items)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	// A draft may start with no line items at all.
	c, err := NewCharge(uuid.New(), nil)
	if err != nil {
		t.Fatalf("empty draft: %v", err)
	}
	if c.Status != ChargeDraft {
		t.Errorf("expected draft, got %s", c.Status)
	}
	if c.TotalAmount() != 0 {
		t.Errorf("empty draft total must be 0, got %d", c.TotalAmount())
	}
}

func TestChargeTotalAmount_IsDerived(t *testing.T) {
	c, err := NewCharge(uuid.New(), []LineItem{
		{Code: "99214", Fee: 14500},
		{Code: "36415", Fee: 1200},
		{Code: "80053", Fee: 3400},
	})
	if err != nil {
		t.Fatalf("new charge: %v", err)
	}
	if c.TotalAmount() != 19100 {
		t.Errorf("expected 19100, got %d", c.TotalAmount())
	}

	c.LineItems = c.LineItems[:1]
	if c.TotalAmount() != 14500 {
		t.Errorf("total must track line items, got %d", c.TotalAmount())
	}
}

func TestClaimCheckInvariants(t *testing.T) {
	denialID := uuid.New()
	base := Claim{ID: uuid.New(), ChargeID: uuid.New(), Payer: "Aetna", SubmittedAmount: 10000}

	cases := []struct {
		name   string
		mutate func(*Claim)
		ok     bool
	}{
		{"submitted", func(c *Claim) { c.Status = ClaimSubmitted }, true},
		{"paid in full", func(c *Claim) { c.Status = ClaimPaid; c.PaidAmount = 10000 }, true},
		{"paid short", func(c *Claim) { c.Status = ClaimPaid; c.PaidAmount = 9000 }, false},
		{"partial in range", func(c *Claim) { c.Status = ClaimPartiallyPaid; c.PaidAmount = 5000 }, true},
		{"partial zero", func(c *Claim) { c.Status = ClaimPartiallyPaid; c.PaidAmount = 0 }, false},
		{"partial at full", func(c *Claim) { c.Status = ClaimPartiallyPaid; c.PaidAmount = 10000 }, false},
		{"paid exceeds submitted", func(c *Claim) { c.Status = ClaimPaid; c.PaidAmount = 10001 }, false},
		{"denied with reference", func(c *Claim) { c.Status = ClaimDenied; c.DenialID = &denialID }, true},
		{"denied without reference", func(c *Claim) { c.Status = ClaimDenied }, false},
		{"denial reference without denied status", func(c *Claim) { c.Status = ClaimSubmitted; c.DenialID = &denialID }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.CheckInvariants()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected invariant violation")
			}
		})
	}
}

func TestClaimIsPending(t *testing.T) {
	submitted := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	window := 14 * 24 * time.Hour
	c := Claim{Status: ClaimSubmitted, SubmittedAt: submitted}

	if c.IsPending(submitted.Add(window), window) {
		t.Error("claim at the window boundary is not yet pending")
	}
	if !c.IsPending(submitted.Add(window+time.Second), window) {
		t.Error("claim past the window must be pending")
	}

	c.Status = ClaimPaid
	if c.IsPending(submitted.Add(30*24*time.Hour), window) {
		t.Error("adjudicated claim is never pending")
	}
}

func TestNewInvoice_Validation(t *testing.T) {
	due := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	inv, err := NewInvoice(nil, uuid.New(), 32550, 6500, 26050, due)
	if err != nil {
		t.Fatalf("new invoice: %v", err)
	}
	if inv.Status != InvoiceUnpaid {
		t.Errorf("expected unpaid, got %s", inv.Status)
	}
	if inv.Balance() != 6500 {
		t.Errorf("expected balance 6500, got %d", inv.Balance())
	}

	_, err = NewInvoice(nil, uuid.New(), 32550, 6500, 20000, due)
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Code != ValidationInconsistentTotals {
		t.Fatalf("expected inconsistent_totals, got %v", err)
	}

	if _, err := NewInvoice(nil, uuid.Nil, 32550, 6500, 26050, due); err == nil {
		t.Error("expected error for missing patient")
	}
	if _, err := NewInvoice(nil, uuid.New(), -1, -1, 0, due); err == nil {
		t.Error("expected error for negative amounts")
	}
}

func TestInvoiceIsOverdue(t *testing.T) {
	due := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	inv := Invoice{Status: InvoiceUnpaid, PatientResponsibility: 6500, DueDate: due}

	if IsOverdue(&inv, due) {
		t.Error("not overdue on the due date itself")
	}
	if !IsOverdue(&inv, due.Add(time.Hour)) {
		t.Error("past due with a balance must be overdue")
	}

	inv.Payments = []Payment{{Date: due, Amount: 6500, Method: "Check"}}
	if IsOverdue(&inv, due.Add(time.Hour)) {
		t.Error("settled balance is never overdue")
	}

	paid := Invoice{Status: InvoicePaid, PatientResponsibility: 6500, DueDate: due}
	if IsOverdue(&paid, due.Add(time.Hour)) {
		t.Error("paid invoice is never overdue")
	}
}
