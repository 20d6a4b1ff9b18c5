// Package retention expires anonymously owned endpoints. Anonymous
// endpoints are disposable by design; signed-in owners keep theirs until
// they delete them.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hooklens/hooklens/internal/config"
	"github.com/hooklens/hooklens/internal/storage"
)

type Sweeper struct {
	store    storage.Storage
	ttl      time.Duration
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(cfg config.RetentionConfig, store storage.Storage, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		ttl:      cfg.AnonymousTTL,
		interval: cfg.SweepInterval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info().
		Dur("ttl", s.ttl).
		Dur("interval", s.interval).
		Msg("starting retention sweeper")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("retention sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	n, err := s.store.DeleteExpiredAnonEndpoints(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Msg("expired anonymous endpoints removed")
	}
}
