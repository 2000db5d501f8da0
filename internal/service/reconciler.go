package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aaronwang/coin-auction/internal/auction"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Reconciler closes auctions whose end time has passed. The final price and
// winner come from the last bid committed before expiry, so any delay between
// expiry and reconciliation is harmless.
type Reconciler struct {
	bids     *BiddingService
	interval time.Duration
	log      zerolog.Logger
}

// NewReconciler creates a reconciler sweeping every interval
func NewReconciler(bids *BiddingService, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		bids:     bids,
		interval: interval,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile closes every active auction that ended before now and returns
// how many it closed. A failure on one auction is logged and collected but
// does not stop the sweep.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) (int, error) {
	auctions, err := r.bids.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active auctions: %w", err)
	}

	var result *multierror.Error
	closed := 0
	for _, a := range auctions {
		if !auction.IsExpired(a, now) {
			continue
		}

		ok, err := r.bids.CloseIfExpired(ctx, a.ID, now)
		if err != nil {
			r.log.Error().Err(err).Str("auction_id", a.ID).Msg("failed to close auction")
			result = multierror.Append(result, fmt.Errorf("auction %s: %w", a.ID, err))
			continue
		}
		if ok {
			closed++
		}
	}

	return closed, result.ErrorOrNil()
}

// Run sweeps on every tick until ctx is cancelled.
// This is a blocking operation - run in a goroutine
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Msg("expiry reconciler started")
	r.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			r.log.Info().Msg("expiry reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	closed, err := r.Reconcile(ctx, r.bids.Now())
	if err != nil {
		r.log.Warn().Err(err).Int("closed", closed).Msg("sweep finished with errors")
		return
	}
	if closed > 0 {
		r.log.Info().Int("closed", closed).Msg("sweep closed auctions")
	}
}
