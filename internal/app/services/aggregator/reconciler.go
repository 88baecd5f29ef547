package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/liquidity_layer/internal/app/metrics"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
	"github.com/R3E-Network/liquidity_layer/internal/app/system"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Reconciler periodically surveys open purchase requests. It updates the
// open-request gauge and logs funds that have been pending longer than the
// stale threshold. It never cancels or times out a request; messaging layers
// deliver at least once, so a pending fund will eventually settle.
type Reconciler struct {
	store      storage.RequestStore
	interval   time.Duration
	staleAfter time.Duration
	log        *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Reconciler)(nil)

// NewReconciler constructs a reconciler over the request store.
func NewReconciler(store storage.RequestStore, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("aggregator-reconciler")
	}
	return &Reconciler{
		store:      store,
		interval:   30 * time.Second,
		staleAfter: 10 * time.Minute,
		log:        log,
	}
}

func (r *Reconciler) Name() string { return "aggregator-reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("reconciler started")
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *Reconciler) tick(ctx context.Context) {
	open, err := r.store.ListOpenRequests(ctx)
	if err != nil {
		r.log.WithError(err).Warn("list open requests failed")
		return
	}
	metrics.SetOpenRequests(len(open))

	cutoff := time.Now().UTC().Add(-r.staleAfter)
	for _, req := range open {
		if !req.CreatedAt.Before(cutoff) {
			continue
		}
		r.log.WithField("request_id", req.ID).
			WithField("pending_funds", len(req.PendingFunds())).
			WithField("age", time.Since(req.CreatedAt).Round(time.Second).String()).
			Warn("purchase request still awaiting settlement")
	}
}
