// Package retention owns the scheduled deletion of expired relayed copies.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

type Config struct {
	// Schedule is a crontab expression; empty means every 10 minutes.
	Schedule string
}

// Sweeper periodically deletes copies whose TTL elapsed. The copy store
// also prunes opportunistically on writes; the sweep bounds how stale a
// quiet database can get.
type Sweeper struct {
	cfg   Config
	store storage.Store
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewSweeper(cfg Config, store storage.Store, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{cfg: cfg, store: store, log: log}
}

func (s *Sweeper) Start() error {
	spec := s.cfg.Schedule
	if spec == "" {
		spec = "*/10 * * * *"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("retention sweep scheduled", logx.String("schedule", spec))
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	n, err := s.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.log.Error("retention sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("retention sweep done", logx.Int64("removed", n), logx.Duration("dur", time.Since(start)))
	} else {
		s.log.Debug("retention sweep done (nothing expired)", logx.Duration("dur", time.Since(start)))
	}
}
