// Package supervisor restarts long-running workers with exponential backoff
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// ErrGaveUp is returned when the restart budget is exhausted
var ErrGaveUp = errors.New("supervisor: restart budget exhausted")

// Options configures restart policy
type Options struct {
	Name            string
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxRestarts bounds consecutive failed runs; 0 means unlimited
	MaxRestarts uint64
	// StableAfter resets the backoff when a run lasted at least this long
	StableAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.InitialInterval <= 0 {
		o.InitialInterval = time.Second
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = time.Minute
	}
	if o.StableAfter <= 0 {
		o.StableAfter = 5 * time.Minute
	}
	return o
}

// Run calls fn until it returns nil or ctx is done, sleeping between failed runs.
// A panic inside fn counts as a failed run.
func Run(ctx context.Context, opts Options, fn func(context.Context) error) error {
	opts = opts.withDefaults()
	log := logger.Named("supervisor").With().Str("worker", opts.Name).Logger()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.InitialInterval
	eb.MaxInterval = opts.MaxInterval
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	if opts.MaxRestarts > 0 {
		b = backoff.WithMaxRetries(eb, opts.MaxRestarts)
	}
	b.Reset()

	for {
		started := time.Now()
		err := runOnce(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if time.Since(started) >= opts.StableAfter {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			log.Error().Err(err).Msg("worker failed, giving up")
			return fmt.Errorf("%w: %s: %v", ErrGaveUp, opts.Name, err)
		}
		log.Warn().Err(err).Dur("retry_in", wait).Msg("worker failed, restarting")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func runOnce(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
