package encounter

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// CodingStatus tracks where an encounter sits in the coding queue.
type CodingStatus string

const (
	CodingComplete      CodingStatus = "complete"
	CodingPendingReview CodingStatus = "pending_review"
	CodingFlagged       CodingStatus = "flagged"
)

func (s CodingStatus) Valid() bool {
	switch s {
	case CodingComplete, CodingPendingReview, CodingFlagged:
		return true
	}
	return false
}

// Encounter is a clinical visit carrying the diagnosis and procedure codes
// that charges bill against. One encounter may back multiple charges.
type Encounter struct {
	ID             uuid.UUID    `json:"id"`
	PatientID      uuid.UUID    `json:"patient_id"`
	ProviderID     uuid.UUID    `json:"provider_id"`
	ServiceDate    time.Time    `json:"service_date"`
	DiagnosisCodes []string     `json:"diagnosis_codes"`
	ProcedureCodes []string     `json:"procedure_codes"`
	CodingStatus   CodingStatus `json:"coding_status"`
	Notes          string       `json:"notes,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// icd10Pattern matches ICD-10-CM codes such as E11.9, I10, M54.5.
var icd10Pattern = regexp.MustCompile(`^[A-TV-Z][0-9][0-9A-Z](\.[0-9A-Z]{1,4})?$`)

// cptPattern matches five-digit CPT codes such as 99213.
var cptPattern = regexp.MustCompile(`^[0-9]{5}$`)

// ValidDiagnosisCode reports whether code looks like an ICD-10-CM code.
func ValidDiagnosisCode(code string) bool { return icd10Pattern.MatchString(code) }

// ValidProcedureCode reports whether code looks like a CPT code.
func ValidProcedureCode(code string) bool { return cptPattern.MatchString(code) }

// Validate checks field-level invariants.
func (e *Encounter) Validate() error {
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if e.ProviderID == uuid.Nil {
		return fmt.Errorf("provider_id is required")
	}
	if e.ServiceDate.IsZero() {
		return fmt.Errorf("service_date is required")
	}
	for _, code := range e.DiagnosisCodes {
		if !ValidDiagnosisCode(code) {
			return fmt.Errorf("invalid diagnosis code: %s", code)
		}
	}
	for _, code := range e.ProcedureCodes {
		if !ValidProcedureCode(code) {
			return fmt.Errorf("invalid procedure code: %s", code)
		}
	}
	if e.CodingStatus != "" && !e.CodingStatus.Valid() {
		return fmt.Errorf("invalid coding status: %s", e.CodingStatus)
	}
	return nil
}
