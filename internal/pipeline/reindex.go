package pipeline

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
)

type ReindexNoteStore interface {
	ListIndexedStaleModel(ctx context.Context, currentVersion string, limit int) ([]model.Note, error)
	UpdateStatusIf(ctx context.Context, noteID, fromStatus, toStatus string, mtime int64) (bool, error)
}

type ReindexEmbeddingStore interface {
	DeleteSuperseded(ctx context.Context, currentVersion string) (int64, error)
}

// Reindexer migrates notes to the current embedding model after a config
// change: stale indexed notes are sent back through the embed stage at
// maintenance priority, a batch per run, so user uploads stay ahead of the
// backfill.
type Reindexer struct {
	notes      ReindexNoteStore
	jobs       JobStore
	embeddings ReindexEmbeddingStore
	embedder   Embedder
	batch      int
}

func NewReindexer(notes ReindexNoteStore, jobs JobStore, embeddings ReindexEmbeddingStore, embedder Embedder, batch int) *Reindexer {
	if batch <= 0 {
		batch = 100
	}
	return &Reindexer{
		notes:      notes,
		jobs:       jobs,
		embeddings: embeddings,
		embedder:   embedder,
		batch:      batch,
	}
}

func (r *Reindexer) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	version := r.embedder.EmbeddingModelVersion()
	notes, err := r.notes.ListIndexedStaleModel(ctx, version, r.batch)
	if err != nil {
		return err
	}
	for _, note := range notes {
		now := nowMillis()
		moved, err := r.notes.UpdateStatusIf(ctx, note.ID, model.NoteStatusIndexed, model.NoteStatusEmbeddingPending, now)
		if err != nil {
			return err
		}
		if !moved {
			continue
		}
		job := &model.Job{
			ID:            model.NewID(),
			NoteID:        note.ID,
			Stage:         model.StageEmbed,
			Priority:      model.PriorityMaintenance,
			Status:        model.JobStatusPending,
			NextAttemptAt: now,
			Ctime:         now,
			Mtime:         now,
		}
		if err := r.jobs.Enqueue(ctx, job); err != nil && !appErr.IsConflict(err) {
			return err
		}
		logger.Info("scheduled re-embedding for stale model",
			zap.String("note_id", note.ID),
			zap.String("old_version", note.EmbedModelVersion),
			zap.String("new_version", version))
	}
	// old-version records stay until every stale note has been migrated,
	// so a crashed backfill can always be restarted from them
	if len(notes) == 0 {
		deleted, err := r.embeddings.DeleteSuperseded(ctx, version)
		if err != nil {
			return err
		}
		if deleted > 0 {
			logger.Info("purged superseded embeddings", zap.Int64("count", deleted))
		}
	}
	return nil
}
