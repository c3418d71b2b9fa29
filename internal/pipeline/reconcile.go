package pipeline

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
)

type ReconcileNoteStore interface {
	ListByStatuses(ctx context.Context, statuses []string) ([]model.Note, error)
	UpdateStatusIf(ctx context.Context, noteID, fromStatus, toStatus string, mtime int64) (bool, error)
}

type ReconcileJobStore interface {
	Enqueue(ctx context.Context, job *model.Job) error
	GetOutstandingByNote(ctx context.Context, noteID string) (*model.Job, error)
	Requeue(ctx context.Context, jobID string, nextAttemptAt int64, lastErr string, mtime int64) (bool, error)
	ListRunningBefore(ctx context.Context, cutoff int64) ([]*model.Job, error)
}

type EmbeddingStore interface {
	Get(ctx context.Context, noteID, modelVersion string) (*model.EmbeddingRecord, error)
}

type ReconcileIndex interface {
	Has(noteID string) bool
	Upsert(noteID, ownerID string, vector []float32, modelVersion string, updatedAt int64)
	Len() int
	Rebuild(ctx context.Context, modelVersion string) error
}

// Reconciler repairs notes the pipeline lost track of: a crash can strand a
// note in an in-flight state with no live worker, leave a checkpoint with no
// queued job, or leave an indexed note without an in-memory index entry. It
// runs once at startup and then on a cron cadence.
type Reconciler struct {
	notes      ReconcileNoteStore
	jobs       ReconcileJobStore
	embeddings EmbeddingStore
	idx        ReconcileIndex
	embedder   Embedder
	stuckAfter time.Duration
}

func NewReconciler(notes ReconcileNoteStore, jobs ReconcileJobStore, embeddings EmbeddingStore, idx ReconcileIndex, embedder Embedder, stuckAfter time.Duration) *Reconciler {
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	return &Reconciler{
		notes:      notes,
		jobs:       jobs,
		embeddings: embeddings,
		idx:        idx,
		embedder:   embedder,
		stuckAfter: stuckAfter,
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	if err := r.requeueStuckJobs(ctx, logger); err != nil {
		return err
	}
	if err := r.revertOrphanedInFlight(ctx, logger); err != nil {
		return err
	}
	if err := r.restartStalledCheckpoints(ctx, logger); err != nil {
		return err
	}
	return r.repairIndexed(ctx, logger)
}

// requeueStuckJobs returns jobs abandoned by a dead worker to the pending
// queue and moves their notes back to the prior checkpoint.
func (r *Reconciler) requeueStuckJobs(ctx context.Context, logger *zap.Logger) error {
	now := nowMillis()
	jobs, err := r.jobs.ListRunningBefore(ctx, now-r.stuckAfter.Milliseconds())
	if err != nil {
		return err
	}
	for _, job := range jobs {
		spec, ok := specFor(job.Stage)
		if !ok {
			continue
		}
		requeued, err := r.jobs.Requeue(ctx, job.ID, now, "requeued by reconciler", now)
		if err != nil {
			return err
		}
		if !requeued {
			continue
		}
		_, _ = r.notes.UpdateStatusIf(ctx, job.NoteID, spec.inFlight, spec.from, now)
		logger.Warn("requeued stuck job",
			zap.String("job_id", job.ID),
			zap.String("note_id", job.NoteID),
			zap.String("stage", job.Stage))
	}
	return nil
}

// revertOrphanedInFlight handles notes stranded in an in-flight state with
// no outstanding job at all: the worker died after claiming but its job row
// later got cancelled or purged. Reverting the note makes
// restartStalledCheckpoints pick it up on the next pass.
func (r *Reconciler) revertOrphanedInFlight(ctx context.Context, logger *zap.Logger) error {
	notes, err := r.notes.ListByStatuses(ctx, []string{
		model.NoteStatusTranscribing,
		model.NoteStatusAnalyzing,
		model.NoteStatusEmbedding,
	})
	if err != nil {
		return err
	}
	for _, note := range notes {
		job, err := r.jobs.GetOutstandingByNote(ctx, note.ID)
		if err != nil {
			return err
		}
		if job != nil {
			continue
		}
		var from string
		switch note.Status {
		case model.NoteStatusTranscribing:
			from = model.NoteStatusUploaded
		case model.NoteStatusAnalyzing:
			from = model.NoteStatusTranscribed
		case model.NoteStatusEmbedding:
			from = model.NoteStatusEmbeddingPending
		}
		now := nowMillis()
		moved, err := r.notes.UpdateStatusIf(ctx, note.ID, note.Status, from, now)
		if err != nil {
			return err
		}
		if moved {
			logger.Warn("reverted orphaned in-flight note",
				zap.String("note_id", note.ID),
				zap.String("status", note.Status))
		}
	}
	return nil
}

// restartStalledCheckpoints enqueues a job for every resting note that
// should have one but does not.
func (r *Reconciler) restartStalledCheckpoints(ctx context.Context, logger *zap.Logger) error {
	notes, err := r.notes.ListByStatuses(ctx, []string{
		model.NoteStatusUploaded,
		model.NoteStatusTranscribed,
		model.NoteStatusAnalyzed,
		model.NoteStatusEmbeddingPending,
	})
	if err != nil {
		return err
	}
	for _, note := range notes {
		job, err := r.jobs.GetOutstandingByNote(ctx, note.ID)
		if err != nil {
			return err
		}
		if job != nil {
			continue
		}
		stage, ok := stageForCheckpoint(note.Status)
		if !ok {
			continue
		}
		now := nowMillis()
		if note.Status == model.NoteStatusAnalyzed {
			moved, err := r.notes.UpdateStatusIf(ctx, note.ID, model.NoteStatusAnalyzed, model.NoteStatusEmbeddingPending, now)
			if err != nil {
				return err
			}
			if !moved {
				continue
			}
		}
		if err := r.enqueue(ctx, note.ID, stage, now); err != nil {
			return err
		}
		logger.Info("restarted stalled note",
			zap.String("note_id", note.ID),
			zap.String("stage", stage))
	}
	return nil
}

// repairIndexed checks every indexed note against the durable embedding
// records and the in-memory index. A missing record for the current model
// version sends the note back through the embed stage; a missing index
// entry is filled straight from the record. When single-entry repairs still
// leave the index size off, stray entries crept in and the index is rebuilt
// wholesale from the records.
func (r *Reconciler) repairIndexed(ctx context.Context, logger *zap.Logger) error {
	notes, err := r.notes.ListByStatuses(ctx, []string{model.NoteStatusIndexed})
	if err != nil {
		return err
	}
	version := r.embedder.EmbeddingModelVersion()
	expected := 0
	for _, note := range notes {
		rec, err := r.embeddings.Get(ctx, note.ID, version)
		if err != nil {
			if !appErr.IsNotFound(err) {
				return err
			}
			now := nowMillis()
			moved, err := r.notes.UpdateStatusIf(ctx, note.ID, model.NoteStatusIndexed, model.NoteStatusEmbeddingPending, now)
			if err != nil {
				return err
			}
			if !moved {
				continue
			}
			if err := r.enqueue(ctx, note.ID, model.StageEmbed, now); err != nil {
				return err
			}
			logger.Warn("indexed note missing embedding record, re-embedding",
				zap.String("note_id", note.ID))
			continue
		}
		if !r.idx.Has(note.ID) {
			r.idx.Upsert(rec.NoteID, rec.OwnerID, rec.Vector, rec.ModelVersion, nowMillis())
			logger.Info("restored index entry", zap.String("note_id", note.ID))
		}
		expected++
	}
	if r.idx.Len() != expected {
		logger.Warn("index size off after repairs, rebuilding",
			zap.Int("index_len", r.idx.Len()),
			zap.Int("expected", expected))
		return r.idx.Rebuild(ctx, version)
	}
	return nil
}

func (r *Reconciler) enqueue(ctx context.Context, noteID, stage string, now int64) error {
	job := &model.Job{
		ID:            model.NewID(),
		NoteID:        noteID,
		Stage:         stage,
		Priority:      model.PriorityMaintenance,
		Status:        model.JobStatusPending,
		NextAttemptAt: now,
		Ctime:         now,
		Mtime:         now,
	}
	if err := r.jobs.Enqueue(ctx, job); err != nil && !appErr.IsConflict(err) {
		return err
	}
	return nil
}
