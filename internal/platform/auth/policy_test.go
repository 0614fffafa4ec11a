package auth

import "testing"

func TestPermittedActions_AdminChargeFullSet(t *testing.T) {
	actions := PermittedActions(RoleAdmin, EntityCharge, "draft")
	want := map[Action]bool{
		ActionRead: true, ActionCreate: true, ActionEdit: true,
		ActionFinalize: true, ActionSubmit: true,
	}
	if len(actions) != len(want) {
		t.Fatalf("expected %d actions, got %v", len(want), actions)
	}
	for _, a := range actions {
		if !want[a] {
			t.Errorf("unexpected action %s", a)
		}
	}
}

func TestPermittedActions_DoctorEditDraftOnly(t *testing.T) {
	if !Allowed(RoleDoctor, EntityCharge, "draft", ActionEdit) {
		t.Error("doctor should edit a draft charge")
	}
	if Allowed(RoleDoctor, EntityCharge, "ready_to_bill", ActionEdit) {
		t.Error("doctor must not edit a finalized charge")
	}
	if Allowed(RoleDoctor, EntityCharge, "draft", ActionSubmit) {
		t.Error("doctor must not submit charges")
	}
	if Allowed(RoleDoctor, EntityClaim, "submitted", ActionAdjudicate) {
		t.Error("doctor must not adjudicate claims")
	}
}

func TestPermittedActions_PatientChargeAlwaysEmpty(t *testing.T) {
	for _, status := range []string{"draft", "ready_to_bill", "submitted", "", "bogus"} {
		if got := PermittedActions(RolePatient, EntityCharge, status); len(got) != 0 {
			t.Errorf("patient actions on charge in %q: expected empty, got %v", status, got)
		}
	}
}

func TestPermittedActions_PatientAppealOpenOnly(t *testing.T) {
	if !Allowed(RolePatient, EntityDenial, "open", ActionAppeal) {
		t.Error("patient should appeal an open denial")
	}
	for _, status := range []string{"appeal_submitted", "appeal_rejected", "resolved", "corrected_claim_sent"} {
		if Allowed(RolePatient, EntityDenial, status, ActionAppeal) {
			t.Errorf("patient must not appeal a denial in %s", status)
		}
	}
	if Allowed(RolePatient, EntityDenial, "open", ActionDecide) {
		t.Error("patient must not record payer decisions")
	}
}

func TestPermittedActions_FailClosed(t *testing.T) {
	if got := PermittedActions(Role("biller"), EntityCharge, "draft"); len(got) != 0 {
		t.Errorf("unknown role: expected empty set, got %v", got)
	}
	if got := PermittedActions(RoleAdmin, Entity("ledger"), "open"); len(got) != 0 {
		t.Errorf("unknown entity: expected empty set, got %v", got)
	}
	if got := PermittedActions(Role(""), Entity(""), ""); len(got) != 0 {
		t.Errorf("empty triple: expected empty set, got %v", got)
	}
}

func TestAllowed_PatientInvoicePayment(t *testing.T) {
	for _, status := range []string{"unpaid", "partially_paid", "overdue"} {
		if !Allowed(RolePatient, EntityInvoice, status, ActionRecordPayment) {
			t.Errorf("patient should pay an invoice in %s", status)
		}
	}
	if Allowed(RolePatient, EntityInvoice, "unpaid", ActionMarkOverdue) {
		t.Error("patient must not mark invoices overdue")
	}
}
