package job

import (
	"context"

	"github.com/xxxsen/voxnote/internal/pipeline"
)

type ReconcileJob struct {
	reconciler *pipeline.Reconciler
}

func NewReconcileJob(reconciler *pipeline.Reconciler) *ReconcileJob {
	return &ReconcileJob{reconciler: reconciler}
}

func (j *ReconcileJob) Name() string {
	return "pipeline_reconcile"
}

func (j *ReconcileJob) Run(ctx context.Context) error {
	if j.reconciler == nil {
		return nil
	}
	return j.reconciler.Run(ctx)
}
