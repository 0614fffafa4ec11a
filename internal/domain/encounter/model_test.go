package encounter

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEncounter() *Encounter {
	return &Encounter{
		PatientID:      uuid.New(),
		ProviderID:     uuid.New(),
		ServiceDate:    time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC),
		DiagnosisCodes: []string{"E11.9", "I10"},
		ProcedureCodes: []string{"99213"},
		CodingStatus:   CodingPendingReview,
	}
}

func TestValidate_AcceptsWellFormedEncounter(t *testing.T) {
	if err := validEncounter().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	e := validEncounter()
	e.PatientID = uuid.Nil
	if err := e.Validate(); err == nil {
		t.Error("expected error for missing patient_id")
	}

	e = validEncounter()
	e.ProviderID = uuid.Nil
	if err := e.Validate(); err == nil {
		t.Error("expected error for missing provider_id")
	}

	e = validEncounter()
	e.ServiceDate = time.Time{}
	if err := e.Validate(); err == nil {
		t.Error("expected error for missing service_date")
	}
}

func TestValidate_CodeFormats(t *testing.T) {
	for _, code := range []string{"E11.9", "I10", "M54.5", "Z00.00", "J06.9"} {
		if !ValidDiagnosisCode(code) {
			t.Errorf("expected %s to be a valid diagnosis code", code)
		}
	}
	for _, code := range []string{"11.9", "E1", "99213", "U071X9999", ""} {
		if ValidDiagnosisCode(code) {
			t.Errorf("expected %s to be rejected as a diagnosis code", code)
		}
	}

	for _, code := range []string{"99213", "99214", "80053", "36415"} {
		if !ValidProcedureCode(code) {
			t.Errorf("expected %s to be a valid procedure code", code)
		}
	}
	for _, code := range []string{"9921", "992134", "E11.9", ""} {
		if ValidProcedureCode(code) {
			t.Errorf("expected %s to be rejected as a procedure code", code)
		}
	}
}

func TestValidate_CodingStatus(t *testing.T) {
	e := validEncounter()
	e.CodingStatus = CodingStatus("in_review")
	if err := e.Validate(); err == nil {
		t.Error("expected error for unknown coding status")
	}
}
