package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/metrics"
	"usergate/internal/models"
	"usergate/internal/ratelimit"
)

// CleanupService purges expired ratelimit events, signups and tokens
type CleanupService struct {
	common
	events ratelimit.Store
}

// NewCleanupService creates a cleanup service. events is the store backing
// the limiters, which may live outside the database.
func NewCleanupService(db *database.DB, cfg *config.Config, events ratelimit.Store, opts ...Option) *CleanupService {
	return &CleanupService{common: newCommon(db, cfg, opts), events: events}
}

// RunOnce purges everything expired and returns the number of removed rows
// per kind. The purges run concurrently; the first error is returned after
// all of them finished.
func (s *CleanupService) RunOnce(ctx context.Context) (map[string]int64, error) {
	now := s.clock()
	jobs := map[string]func(context.Context) (int64, error){
		"ratelimit": func(ctx context.Context) (int64, error) {
			return s.events.Purge(ctx, now)
		},
		"signups": func(ctx context.Context) (int64, error) {
			return s.repos().Signups.PurgeExpired(ctx, now.Add(-models.SignupTTL))
		},
		"tokens": func(ctx context.Context) (int64, error) {
			return s.repos().Tokens.PurgeExpired(ctx, now.Add(-models.TokenTTL))
		},
	}

	var mu sync.Mutex
	purged := make(map[string]int64, len(jobs))
	p := pool.New().WithErrors().WithContext(ctx)
	for kind, job := range jobs {
		p.Go(func(ctx context.Context) error {
			n, err := job(ctx)
			if err != nil {
				return err
			}
			metrics.CleanupPurged.WithLabelValues(kind).Add(float64(n))
			mu.Lock()
			purged[kind] = n
			mu.Unlock()
			return nil
		})
	}
	err := p.Wait()
	return purged, err
}

// Run calls RunOnce every interval until ctx is cancelled
func (s *CleanupService) Run(ctx context.Context, interval time.Duration) {
	log := zerolog.Ctx(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := s.RunOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Cleanup failed")
				continue
			}
			log.Debug().Interface("purged", purged).Msg("Expired records cleaned up")
		}
	}
}
