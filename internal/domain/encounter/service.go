package encounter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/billerly/rcm/internal/platform/db"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Create(ctx context.Context, e *Encounter) error {
	if e.CodingStatus == "" {
		e.CodingStatus = CodingPendingReview
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, e)
	}); err != nil {
		return err
	}
	s.logger.Info().Str("encounter_id", e.ID.String()).Str("patient_id", e.PatientID.String()).Msg("encounter created")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	var e *Encounter
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.repo.GetByID(ctx, id)
		return err
	})
	return e, err
}

// UpdateCoding replaces the code sets and coding status on an encounter.
func (s *Service) UpdateCoding(ctx context.Context, id uuid.UUID, diagnosisCodes, procedureCodes []string, status CodingStatus) (*Encounter, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("encounter %s not found", id)
	}

	e.DiagnosisCodes = diagnosisCodes
	e.ProcedureCodes = procedureCodes
	e.CodingStatus = status
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if err := db.WithRetry(ctx, func(ctx context.Context) error {
		return s.repo.Update(ctx, e)
	}); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var (
		encounters []*Encounter
		total      int
	)
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		encounters, total, err = s.repo.ListByPatient(ctx, patientID, limit, offset)
		return err
	})
	return encounters, total, err
}

// ListByProvider lists the encounters attributed to a single provider.
func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var (
		encounters []*Encounter
		total      int
	)
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		encounters, total, err = s.repo.ListByProvider(ctx, providerID, limit, offset)
		return err
	})
	return encounters, total, err
}

// CodingQueue lists encounters awaiting coding review.
func (s *Service) CodingQueue(ctx context.Context, status CodingStatus, limit, offset int) ([]*Encounter, int, error) {
	if !status.Valid() {
		return nil, 0, fmt.Errorf("invalid coding status: %s", status)
	}
	var (
		encounters []*Encounter
		total      int
	)
	err := db.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		encounters, total, err = s.repo.ListByCodingStatus(ctx, status, limit, offset)
		return err
	})
	return encounters, total, err
}
