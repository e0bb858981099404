package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconciler periodically settles sessions whose containers died outside our
// control (OOM kill, manual docker stop, daemon restart).
type Reconciler struct {
	registry *Registry
	cron     *cron.Cron
	interval time.Duration
}

func NewReconciler(registry *Registry, interval time.Duration) *Reconciler {
	return &Reconciler{
		registry: registry,
		cron:     cron.New(),
		interval: interval,
	}
}

func (r *Reconciler) Start() error {
	spec := fmt.Sprintf("@every %s", r.interval)
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.interval)
		defer cancel()
		r.registry.Reconcile(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciler: %w", err)
	}
	r.cron.Start()
	log.Printf("Reconciler running every %s", r.interval)
	return nil
}

// Stop halts scheduling and waits for an in-flight pass to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}
