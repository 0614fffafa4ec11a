package revenue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/billerly/rcm/internal/platform/db"
)

// In-memory repositories with the same compare-and-swap semantics as the
// Postgres ones. failNext injects transient persistence failures.

type memStore struct {
	mu       sync.Mutex
	charges  map[uuid.UUID]*Charge
	claims   map[uuid.UUID]*Claim
	denials  map[uuid.UUID]*Denial
	invoices map[uuid.UUID]*Invoice
	failNext int
}

func newMemStore() *memStore {
	return &memStore{
		charges:  map[uuid.UUID]*Charge{},
		claims:   map[uuid.UUID]*Claim{},
		denials:  map[uuid.UUID]*Denial{},
		invoices: map[uuid.UUID]*Invoice{},
	}
}

func (s *memStore) maybeFail(op string) error {
	if s.failNext > 0 {
		s.failNext--
		return db.NewPersistenceError(op, errors.New("injected failure"))
	}
	return nil
}

func copyCharge(c *Charge) *Charge {
	cp := *c
	cp.LineItems = append([]LineItem(nil), c.LineItems...)
	return &cp
}

func copyClaim(c *Claim) *Claim {
	cp := *c
	return &cp
}

func copyDenial(d *Denial) *Denial {
	cp := *d
	return &cp
}

func copyInvoice(i *Invoice) *Invoice {
	cp := *i
	cp.Payments = append([]Payment(nil), i.Payments...)
	return &cp
}

type memChargeRepo struct{ s *memStore }

func (r *memChargeRepo) Create(_ context.Context, c *Charge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("create charge"); err != nil {
		return err
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.charges[c.ID] = copyCharge(c)
	return nil
}

func (r *memChargeRepo) GetByID(_ context.Context, id uuid.UUID) (*Charge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("get charge"); err != nil {
		return nil, err
	}
	c, ok := r.s.charges[id]
	if !ok {
		return nil, nil
	}
	return copyCharge(c), nil
}

func (r *memChargeRepo) Update(_ context.Context, c *Charge, expected ChargeStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("update charge"); err != nil {
		return false, err
	}
	stored, ok := r.s.charges[c.ID]
	if !ok || stored.Status != expected {
		return false, nil
	}
	cp := copyCharge(c)
	cp.UpdatedAt = time.Now()
	r.s.charges[c.ID] = cp
	return true, nil
}

func (r *memChargeRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID, limit, offset int) ([]*Charge, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Charge
	for _, c := range r.s.charges {
		if c.EncounterID == encounterID {
			out = append(out, copyCharge(c))
		}
	}
	return out, len(out), nil
}

func (r *memChargeRepo) ListByStatus(_ context.Context, status ChargeStatus, limit, offset int) ([]*Charge, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Charge
	for _, c := range r.s.charges {
		if c.Status == status {
			out = append(out, copyCharge(c))
		}
	}
	return out, len(out), nil
}

type memClaimRepo struct{ s *memStore }

func (r *memClaimRepo) Create(_ context.Context, c *Claim) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("create claim"); err != nil {
		return err
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.claims[c.ID] = copyClaim(c)
	return nil
}

func (r *memClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*Claim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("get claim"); err != nil {
		return nil, err
	}
	c, ok := r.s.claims[id]
	if !ok {
		return nil, nil
	}
	return copyClaim(c), nil
}

func (r *memClaimRepo) Update(_ context.Context, c *Claim, expected ClaimStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("update claim"); err != nil {
		return false, err
	}
	stored, ok := r.s.claims[c.ID]
	if !ok || stored.Status != expected {
		return false, nil
	}
	cp := copyClaim(c)
	cp.UpdatedAt = time.Now()
	r.s.claims[c.ID] = cp
	return true, nil
}

func (r *memClaimRepo) ListByCharge(_ context.Context, chargeID uuid.UUID) ([]*Claim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Claim
	for _, c := range r.s.claims {
		if c.ChargeID == chargeID {
			out = append(out, copyClaim(c))
		}
	}
	return out, nil
}

func (r *memClaimRepo) ListByStatus(_ context.Context, status ClaimStatus, limit, offset int) ([]*Claim, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Claim
	for _, c := range r.s.claims {
		if c.Status == status {
			out = append(out, copyClaim(c))
		}
	}
	return out, len(out), nil
}

type memDenialRepo struct{ s *memStore }

func (r *memDenialRepo) Create(_ context.Context, d *Denial) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("create denial"); err != nil {
		return err
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	r.s.denials[d.ID] = copyDenial(d)
	return nil
}

func (r *memDenialRepo) GetByID(_ context.Context, id uuid.UUID) (*Denial, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("get denial"); err != nil {
		return nil, err
	}
	d, ok := r.s.denials[id]
	if !ok {
		return nil, nil
	}
	return copyDenial(d), nil
}

func (r *memDenialRepo) GetOpenByClaim(_ context.Context, claimID uuid.UUID) (*Denial, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.denials {
		if d.ClaimID == claimID && d.Status == DenialOpen {
			return copyDenial(d), nil
		}
	}
	return nil, nil
}

func (r *memDenialRepo) Update(_ context.Context, d *Denial, expected DenialStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("update denial"); err != nil {
		return false, err
	}
	stored, ok := r.s.denials[d.ID]
	if !ok || stored.Status != expected {
		return false, nil
	}
	cp := copyDenial(d)
	cp.UpdatedAt = time.Now()
	r.s.denials[d.ID] = cp
	return true, nil
}

func (r *memDenialRepo) ListByStatus(_ context.Context, status DenialStatus, limit, offset int) ([]*Denial, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Denial
	for _, d := range r.s.denials {
		if d.Status == status {
			out = append(out, copyDenial(d))
		}
	}
	return out, len(out), nil
}

type memInvoiceRepo struct{ s *memStore }

func (r *memInvoiceRepo) Create(_ context.Context, i *Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("create invoice"); err != nil {
		return err
	}
	now := time.Now()
	i.CreatedAt, i.UpdatedAt = now, now
	if i.Payments == nil {
		i.Payments = []Payment{}
	}
	r.s.invoices[i.ID] = copyInvoice(i)
	return nil
}

func (r *memInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("get invoice"); err != nil {
		return nil, err
	}
	i, ok := r.s.invoices[id]
	if !ok {
		return nil, nil
	}
	return copyInvoice(i), nil
}

func (r *memInvoiceRepo) AddPayment(_ context.Context, id uuid.UUID, p Payment, expected, newStatus InvoiceStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("add invoice payment"); err != nil {
		return false, err
	}
	stored, ok := r.s.invoices[id]
	if !ok || stored.Status != expected {
		return false, nil
	}
	paid := Cents(0)
	for _, prior := range stored.Payments {
		paid += prior.Amount
	}
	if stored.PatientResponsibility-paid < p.Amount {
		return false, nil
	}
	stored.Payments = append(stored.Payments, p)
	stored.Status = newStatus
	stored.UpdatedAt = time.Now()
	return true, nil
}

func (r *memInvoiceRepo) UpdateStatus(_ context.Context, id uuid.UUID, expected, newStatus InvoiceStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.maybeFail("update invoice status"); err != nil {
		return false, err
	}
	stored, ok := r.s.invoices[id]
	if !ok || stored.Status != expected {
		return false, nil
	}
	stored.Status = newStatus
	stored.UpdatedAt = time.Now()
	return true, nil
}

func (r *memInvoiceRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Invoice
	for _, i := range r.s.invoices {
		if i.PatientID == patientID {
			out = append(out, copyInvoice(i))
		}
	}
	return out, len(out), nil
}

func (r *memInvoiceRepo) ListByStatus(_ context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Invoice
	for _, i := range r.s.invoices {
		if i.Status == status {
			out = append(out, copyInvoice(i))
		}
	}
	return out, len(out), nil
}
