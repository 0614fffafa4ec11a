// Package sandbox seeds synthetic revenue cycle data for demo environments.
// Everything goes through the real services and lifecycle engine, so seeded
// entities carry valid histories and pass the same invariants as live data.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/billerly/rcm/internal/domain/encounter"
	"github.com/billerly/rcm/internal/domain/identity"
	"github.com/billerly/rcm/internal/domain/revenue"
	"github.com/billerly/rcm/internal/platform/auth"
)

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	PatientCount      int     `json:"patient_count"`
	ChargesPerPatient int     `json:"charges_per_patient"`
	DenialRate        float64 `json:"denial_rate"`
	PartialRate       float64 `json:"partial_rate"`
	Credential        string  `json:"credential"`
	Seed              int64   `json:"seed"`
}

// DefaultSeedConfig returns defaults sized for a demo practice.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:      10,
		ChargesPerPatient: 3,
		DenialRate:        0.2,
		PartialRate:       0.2,
		Credential:        "demo-pass",
		Seed:              1,
	}
}

// SeedReport summarizes what a seeding run created.
type SeedReport struct {
	Users      int `json:"users"`
	Encounters int `json:"encounters"`
	Charges    int `json:"charges"`
	Claims     int `json:"claims"`
	Denials    int `json:"denials"`
	Invoices   int `json:"invoices"`
}

type Seeder struct {
	identity   *identity.Service
	encounters *encounter.Service
	engine     *revenue.Engine
	logger     zerolog.Logger
}

func NewSeeder(ids *identity.Service, encs *encounter.Service, engine *revenue.Engine, logger zerolog.Logger) *Seeder {
	return &Seeder{
		identity:   ids,
		encounters: encs,
		engine:     engine,
		logger:     logger.With().Str("component", "sandbox_seeder").Logger(),
	}
}

var firstNames = []string{"Emily", "James", "Maria", "David", "Aisha", "Robert", "Linda", "Carlos", "Grace", "Tom"}
var lastNames = []string{"Rodriguez", "Wilson", "Chen", "Okafor", "Patel", "Novak", "Kim", "Garcia", "Becker", "Hughes"}

// visitProfiles pairs a diagnosis with the procedures and fees (in cents)
// typically billed for it.
var visitProfiles = []struct {
	diagnosis  string
	procedures []revenue.LineItem
}{
	{"E11.9", []revenue.LineItem{{Code: "99214", Fee: 14500}, {Code: "83036", Fee: 2700}}},
	{"I10", []revenue.LineItem{{Code: "99213", Fee: 9500}}},
	{"M54.5", []revenue.LineItem{{Code: "99213", Fee: 9500}, {Code: "97110", Fee: 4200}}},
	{"J06.9", []revenue.LineItem{{Code: "99212", Fee: 7200}, {Code: "87880", Fee: 2500}}},
	{"Z00.00", []revenue.LineItem{{Code: "99395", Fee: 18500}, {Code: "80053", Fee: 3400}, {Code: "85025", Fee: 1800}}},
}

var denialReasons = []struct{ code, text string }{
	{"50", "These are non-covered services because this is not deemed a medical necessity"},
	{"16", "Claim lacks information or has submission errors"},
	{"197", "Precertification absent"},
	{"29", "The time limit for filing has expired"},
}

// Run seeds the demo practice. Deterministic for a given config seed.
func (s *Seeder) Run(ctx context.Context) (*SeedReport, error) {
	return s.RunWithConfig(ctx, DefaultSeedConfig())
}

func (s *Seeder) RunWithConfig(ctx context.Context, cfg SeedConfig) (*SeedReport, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	report := &SeedReport{}

	admin, err := s.identity.Register(ctx, "Sarah Mitchell", "admin@billerly.ai", auth.RoleAdmin, cfg.Credential)
	if err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	doctor, err := s.identity.Register(ctx, "James Wilson", "doctor@billerly.ai", auth.RoleDoctor, cfg.Credential)
	if err != nil {
		return nil, fmt.Errorf("seed doctor: %w", err)
	}
	report.Users = 2
	adminActor := admin.Actor()
	doctorActor := doctor.Actor()

	for i := 0; i < cfg.PatientCount; i++ {
		name := fmt.Sprintf("%s %s", firstNames[rng.Intn(len(firstNames))], lastNames[rng.Intn(len(lastNames))])
		email := fmt.Sprintf("patient%d@example.com", i+1)
		patient, err := s.identity.Register(ctx, name, email, auth.RolePatient, cfg.Credential)
		if err != nil {
			return nil, fmt.Errorf("seed patient %s: %w", email, err)
		}
		report.Users++

		for j := 0; j < cfg.ChargesPerPatient; j++ {
			if err := s.seedVisit(ctx, cfg, rng, adminActor, doctorActor, patient.ID, report); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Info().
		Int("users", report.Users).
		Int("charges", report.Charges).
		Int("claims", report.Claims).
		Int("denials", report.Denials).
		Int("invoices", report.Invoices).
		Msg("sandbox seed complete")
	return report, nil
}

func (s *Seeder) seedVisit(ctx context.Context, cfg SeedConfig, rng *rand.Rand, adminActor, doctorActor auth.Actor, patientID uuid.UUID, report *SeedReport) error {
	profile := visitProfiles[rng.Intn(len(visitProfiles))]

	enc := &encounter.Encounter{
		PatientID:      patientID,
		ProviderID:     uuid.New(),
		ServiceDate:    time.Now().AddDate(0, 0, -rng.Intn(90)),
		DiagnosisCodes: []string{profile.diagnosis},
	}
	if err := s.encounters.Create(ctx, enc); err != nil {
		return fmt.Errorf("seed encounter: %w", err)
	}
	report.Encounters++

	chargeSnap, err := s.engine.CreateCharge(ctx, doctorActor, enc.ID, profile.procedures)
	if err != nil {
		return fmt.Errorf("seed charge: %w", err)
	}
	report.Charges++

	// Leave a portion of charges in draft so the coding queue has work.
	if rng.Float64() < 0.2 {
		return nil
	}

	if _, err := s.engine.FinalizeCharge(ctx, adminActor, chargeSnap.Charge.ID, revenue.ChargeDraft); err != nil {
		return fmt.Errorf("seed finalize: %w", err)
	}
	_, claimSnap, err := s.engine.SubmitCharge(ctx, adminActor, chargeSnap.Charge.ID, "Blue Cross", revenue.ChargeReadyToBill)
	if err != nil {
		return fmt.Errorf("seed submit: %w", err)
	}
	report.Claims++

	total := chargeSnap.TotalAmount
	roll := rng.Float64()
	switch {
	case roll < 0.2:
		// Leave submitted so the pending window has members.
		return nil
	case roll < 0.2+cfg.DenialRate:
		reason := denialReasons[rng.Intn(len(denialReasons))]
		_, _, err := s.engine.AdjudicateClaim(ctx, adminActor, claimSnap.Claim.ID, revenue.Adjudication{
			Outcome:    revenue.OutcomeDeny,
			ReasonCode: reason.code,
			ReasonText: reason.text,
		})
		if err != nil {
			return fmt.Errorf("seed denial: %w", err)
		}
		report.Denials++
		return nil
	default:
		paid := total
		patientResp := revenue.Cents(0)
		if rng.Float64() < cfg.PartialRate+0.3 {
			// Payer covers 80 percent, patient owes the rest.
			paid = total * 8 / 10
			patientResp = total - paid
		}
		adj := revenue.Adjudication{Outcome: revenue.OutcomePaid}
		if paid < total {
			adj = revenue.Adjudication{Outcome: revenue.OutcomePartial, PaidAmount: paid}
		}
		adjudicated, _, err := s.engine.AdjudicateClaim(ctx, adminActor, claimSnap.Claim.ID, adj)
		if err != nil {
			return fmt.Errorf("seed adjudication: %w", err)
		}
		if patientResp == 0 {
			return nil
		}

		claimID := adjudicated.Claim.ID
		due := time.Now().AddDate(0, 0, 30-rng.Intn(60))
		invSnap, err := s.engine.CreateInvoice(ctx, adminActor, &claimID, patientID, total, patientResp, paid, due)
		if err != nil {
			return fmt.Errorf("seed invoice: %w", err)
		}
		report.Invoices++

		// Some patients have already paid part of their balance.
		if rng.Float64() < 0.5 {
			amount := patientResp / 2
			if amount > 0 {
				patientActor := auth.Actor{ID: patientID.String(), Role: auth.RolePatient}
				if _, err := s.engine.RecordPayment(ctx, patientActor, invSnap.Invoice.ID, amount, "Credit Card", revenue.InvoiceUnpaid); err != nil {
					return fmt.Errorf("seed payment: %w", err)
				}
			}
		}
		return nil
	}
}
