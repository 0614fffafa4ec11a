package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/billerly/rcm/internal/domain/revenue"
)

// OverdueSweeper periodically flips invoices past their due date to overdue.
// The engine owns the decision (IsOverdue plus the status compare-and-swap);
// the sweeper only decides when to look.
type OverdueSweeper struct {
	engine *revenue.Engine
	logger zerolog.Logger

	Interval  time.Duration
	BatchSize int

	now func() time.Time
}

func NewOverdueSweeper(engine *revenue.Engine, logger zerolog.Logger) *OverdueSweeper {
	return &OverdueSweeper{
		engine:    engine,
		logger:    logger.With().Str("component", "overdue_sweeper").Logger(),
		Interval:  time.Hour,
		BatchSize: 200,
		now:       time.Now,
	}
}

// SetClock overrides the sweeper clock. Tests only.
func (s *OverdueSweeper) SetClock(now func() time.Time) { s.now = now }

// Start runs the sweep loop. It blocks until ctx is cancelled.
func (s *OverdueSweeper) Start(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the open invoices. A stale swap means another
// session got there first, which is fine; anything else is logged and the
// sweep moves on.
func (s *OverdueSweeper) Sweep(ctx context.Context) {
	now := s.now()
	marked := 0

	for offset := 0; ; offset += s.BatchSize {
		candidates, err := s.engine.OverdueCandidates(ctx, s.BatchSize, offset)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to list overdue candidates")
			return
		}
		if len(candidates) == 0 {
			break
		}

		for _, inv := range candidates {
			if !revenue.IsOverdue(inv, now) {
				continue
			}
			if _, err := s.engine.MarkOverdue(ctx, inv.ID); err != nil {
				if revenue.LifecycleCode(err) == revenue.LifecycleStaleState {
					continue
				}
				s.logger.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("failed to mark invoice overdue")
				continue
			}
			marked++
		}

		if len(candidates) < s.BatchSize {
			break
		}
	}

	if marked > 0 {
		s.logger.Info().Int("marked", marked).Msg("overdue sweep complete")
	}
}
