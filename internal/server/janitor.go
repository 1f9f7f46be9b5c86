package server

import (
	"context"
	"time"

	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// Reaper drops login flows nobody finished
type Reaper interface {
	ReapAbandoned(ctx context.Context) int
}

// Janitor periodically reaps abandoned login flows
type Janitor struct {
	reaper   Reaper
	interval time.Duration
	log      *logger.Logger
}

// NewJanitor creates a janitor; interval defaults to one minute
func NewJanitor(reaper Reaper, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{reaper: reaper, interval: interval, log: logger.Named("janitor")}
}

// Run ticks until ctx is done
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := j.reaper.ReapAbandoned(ctx); n > 0 {
				j.log.Info().Int("reaped", n).Msg("abandoned login flows removed")
			}
		}
	}
}
