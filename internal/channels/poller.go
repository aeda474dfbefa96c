package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/neboloop/ouro/internal/crashlog"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/metrics"
	"github.com/neboloop/ouro/internal/throttle"
)

const (
	DefaultMinBackoff = 5 * time.Second
	DefaultMaxBackoff = 5 * time.Minute
)

// PollerOptions paces one adapter.
type PollerOptions struct {
	// Interval is the minimum time between polls. Zero polls back to back,
	// which suits adapters whose Poll blocks.
	Interval   time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Kick, when set, lets another goroutine cut the current wait short.
	Kick <-chan struct{}
}

// Poller drives one adapter until its context ends.
type Poller struct {
	adapter Adapter
	queue   *inbox.Queue
	opts    PollerOptions
	limiter *rate.Limiter
	errs    *throttle.ErrorThrottler
}

// NewPoller returns a poller that pushes a's envelopes onto q.
func NewPoller(a Adapter, q *inbox.Queue, opts PollerOptions) *Poller {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	return &Poller{
		adapter: a,
		queue:   q,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		errs:    throttle.New(0, 0),
	}
}

// Run polls until ctx is done. Errors back off exponentially and never stop
// the loop; a panicking adapter is logged and polled again after a backoff.
func (p *Poller) Run(ctx context.Context) error {
	log := logging.For("channels").With("channel", p.adapter.Name())
	log.Info("poller started")
	defer log.Info("poller stopped")

	var cursor string
	backoff := p.opts.MinBackoff
	for {
		if err := p.wait(ctx); err != nil {
			return nil
		}

		envs, next, err := p.poll(ctx, cursor)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			log.Info("input closed")
			return nil
		}
		if err != nil {
			metrics.ChannelErrors.WithLabelValues(p.adapter.Name()).Inc()
			if p.errs.ShouldLog(err.Error()) {
				log.Warn("poll failed", "error", err, "retry_in", backoff)
			}
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, p.opts.MaxBackoff)
			continue
		}
		backoff = p.opts.MinBackoff
		cursor = next

		for _, e := range envs {
			metrics.Envelopes.WithLabelValues(e.Source).Inc()
			p.queue.Push(e)
		}
		if len(envs) > 0 {
			log.Debug("queued", "count", len(envs))
		}
	}
}

func (p *Poller) poll(ctx context.Context, cursor string) (envs []inbox.Envelope, next string, err error) {
	defer func() {
		if r := recover(); r != nil {
			crashlog.LogPanic("channels", r, map[string]string{"channel": p.adapter.Name()})
			err = fmt.Errorf("adapter panic: %v", r)
			next = cursor
		}
	}()
	return p.adapter.Poll(ctx, cursor)
}

// wait blocks for the rate limiter unless a kick arrives first.
func (p *Poller) wait(ctx context.Context) error {
	if p.opts.Kick == nil {
		return p.limiter.Wait(ctx)
	}
	r := p.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-p.opts.Kick:
		return nil
	case <-t.C:
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
