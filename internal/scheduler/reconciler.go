package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/orchestrator"
)

// DefaultReconcileInterval is used when no positive interval is configured.
const DefaultReconcileInterval = 30 * time.Second

// Target is what the reconciler drives.
type Target interface {
	Reconcile(ctx context.Context) (orchestrator.ReconcileReport, error)
	RebuildRoutes(ctx context.Context) error
}

// Reconciler periodically refreshes instance state. A manual trigger also
// rebuilds routes from the store, which is how changes made by another
// process (the CLI) reach the daemon's router.
type Reconciler struct {
	target        Target
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
	done          chan struct{}
}

func NewReconciler(target Target, log logger.Logger, interval time.Duration, manualTrigger chan struct{}) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		target:        target,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
		done:          make(chan struct{}),
	}
}

// Start runs one pass immediately, then loops in the background.
func (r *Reconciler) Start(ctx context.Context) error {
	r.pass(ctx)

	ticker := time.NewTicker(r.interval)
	go func() {
		defer close(r.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.pass(ctx)
			case <-r.manualTrigger:
				r.logger.Info("manual reload triggered")
				if err := r.target.RebuildRoutes(ctx); err != nil {
					r.logger.Error("failed to rebuild routes", logger.Error(err))
				}
				r.pass(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop ends the loop and waits for the current pass.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Reconciler) pass(ctx context.Context) {
	rep, err := r.target.Reconcile(ctx)
	if err != nil {
		r.logger.Error("reconcile failed", logger.Error(err))
		return
	}
	r.logger.Debug("reconciled",
		logger.Int("instances", rep.Instances),
		logger.Int("running", rep.Running),
		logger.Int("healthy", rep.Healthy))
}
