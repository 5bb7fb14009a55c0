package jobs

import (
	"context"

	"github.com/signage/screen-pairing-server/internal/service"
)

// ReconcileJob periodically repairs devices left without a code link.
type ReconcileJob struct {
	reconciler *service.Reconciler
}

func NewReconcileJob(reconciler *service.Reconciler) *ReconcileJob {
	return &ReconcileJob{reconciler: reconciler}
}

func (j *ReconcileJob) Name() string { return "reconcile" }

func (j *ReconcileJob) Run(ctx context.Context) error {
	// ReconcileOrphans logs its own summary.
	_, err := j.reconciler.ReconcileOrphans(ctx)
	return err
}
