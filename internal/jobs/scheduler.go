package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tu2l/identity-platform/internal/repository"
)

// Scheduler runs the periodic credential sweep. Expired ledger rows carry
// no security value once past expiry; the sweep keeps the table from
// growing without bound.
type Scheduler struct {
	cron        *cron.Cron
	credentials *repository.CredentialRepository
	log         zerolog.Logger
}

func NewScheduler(credentials *repository.CredentialRepository, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		credentials: credentials,
		log:         log,
	}
}

func (s *Scheduler) Start() error {
	// Nightly at midnight.
	if _, err := s.cron.AddFunc("0 0 0 * * *", s.sweepExpiredCredentials); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Msg("job scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("job scheduler stop timed out")
	}
}

func (s *Scheduler) sweepExpiredCredentials() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.credentials.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("credential sweep failed")
		return
	}
	s.log.Info().Int64("removed", removed).Msg("credential sweep completed")
}
