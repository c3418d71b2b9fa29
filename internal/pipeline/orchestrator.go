package pipeline

import (
	"context"
	"io"
	"mime"
	"path/filepath"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/ai"
	"github.com/xxxsen/voxnote/internal/filestore"
	"github.com/xxxsen/voxnote/internal/model"
	"github.com/xxxsen/voxnote/internal/notify"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
)

type NoteStore interface {
	Get(ctx context.Context, noteID string) (*model.Note, error)
	UpdateStatusIf(ctx context.Context, noteID, fromStatus, toStatus string, mtime int64) (bool, error)
}

type JobStore interface {
	Enqueue(ctx context.Context, job *model.Job) error
	MarkCancelled(ctx context.Context, jobID string, mtime int64) (bool, error)
	Requeue(ctx context.Context, jobID string, nextAttemptAt int64, lastErr string, mtime int64) (bool, error)
}

// StageStore commits one stage transition atomically: adapter output, note
// status and job status in a single transaction.
type StageStore interface {
	CompleteTranscription(ctx context.Context, noteID, jobID, transcript string, mtime int64) (bool, error)
	CompleteAnalysis(ctx context.Context, noteID, jobID, summary string, tags []string, mtime int64) (bool, error)
	DegradeAnalysis(ctx context.Context, noteID, jobID, errKind, errMsg string, mtime int64) (bool, error)
	CompleteEmbedding(ctx context.Context, rec *model.EmbeddingRecord, jobID string, mtime int64) (committed bool, firstIndexed bool, err error)
	FailStage(ctx context.Context, noteID, jobID, fromStatus, failedStatus, errKind, errMsg string, retryCount int, mtime int64) (bool, error)
	RescheduleStage(ctx context.Context, noteID, jobID, fromStatus, toStatus string, retryCount int, nextAttemptAt int64, lastErr string, mtime int64) (bool, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*ai.AnalysisResult, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	EmbeddingModelVersion() string
}

type VectorIndex interface {
	Upsert(noteID, ownerID string, vector []float32, modelVersion string, updatedAt int64)
	Remove(noteID string)
}

type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Orchestrator advances one note through the stage graph. It owns all note
// writes; everything else only reads.
type Orchestrator struct {
	notes       NoteStore
	jobs        JobStore
	stages      StageStore
	audio       filestore.Store
	transcriber Transcriber
	analyzer    Analyzer
	embedder    Embedder
	idx         VectorIndex
	notifier    notify.Notifier
	cfg         Config
}

func NewOrchestrator(
	notes NoteStore,
	jobs JobStore,
	stages StageStore,
	audio filestore.Store,
	transcriber Transcriber,
	analyzer Analyzer,
	embedder Embedder,
	idx VectorIndex,
	notifier notify.Notifier,
	cfg Config,
) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Orchestrator{
		notes:       notes,
		jobs:        jobs,
		stages:      stages,
		audio:       audio,
		transcriber: transcriber,
		analyzer:    analyzer,
		embedder:    embedder,
		idx:         idx,
		notifier:    notifier,
		cfg:         cfg,
	}
}

// Execute runs one claimed job to completion. Errors never escape: every
// outcome is persisted as a job/note state so a worker can move on.
func (o *Orchestrator) Execute(ctx context.Context, job *model.Job) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("job_id", job.ID),
		zap.String("note_id", job.NoteID),
		zap.String("stage", job.Stage),
		zap.Int("attempt", job.Attempt),
	)
	spec, ok := specFor(job.Stage)
	if !ok {
		logger.Error("unknown stage, cancelling job")
		_, _ = o.jobs.MarkCancelled(ctx, job.ID, nowMillis())
		return
	}
	now := nowMillis()
	note, err := o.notes.Get(ctx, job.NoteID)
	if err != nil {
		if appErr.IsNotFound(err) {
			// note deleted after the job was claimed
			_, _ = o.jobs.MarkCancelled(ctx, job.ID, now)
			return
		}
		logger.Error("load note failed, requeueing job", zap.Error(err))
		_, _ = o.jobs.Requeue(ctx, job.ID, now+o.cfg.BaseBackoff.Milliseconds(), err.Error(), now)
		return
	}
	moved, err := o.notes.UpdateStatusIf(ctx, job.NoteID, spec.from, spec.inFlight, now)
	if err != nil {
		logger.Error("stage transition failed, requeueing job", zap.Error(err))
		_, _ = o.jobs.Requeue(ctx, job.ID, now+o.cfg.BaseBackoff.Milliseconds(), err.Error(), now)
		return
	}
	if !moved {
		logger.Warn("note not at expected checkpoint, cancelling job", zap.String("status", note.Status))
		_, _ = o.jobs.MarkCancelled(ctx, job.ID, now)
		return
	}

	switch spec.stage {
	case model.StageTranscribe:
		o.runTranscribe(ctx, logger, job, note, spec)
	case model.StageAnalyze:
		o.runAnalyze(ctx, logger, job, note, spec)
	case model.StageEmbed:
		o.runEmbed(ctx, logger, job, note, spec)
	}
}

func (o *Orchestrator) runTranscribe(ctx context.Context, logger *zap.Logger, job *model.Job, note *model.Note, spec stageSpec) {
	transcript := note.Transcript
	if transcript == "" {
		// at-least-once delivery: only call out when the field is empty
		audio, err := o.audio.Open(ctx, note.AudioRef)
		if err != nil {
			o.failOrRetry(ctx, logger, job, spec, ai.Transient(err))
			return
		}
		transcript, err = o.transcriber.Transcribe(ctx, audio, mimeTypeFor(note.AudioRef))
		_ = audio.Close()
		if err != nil {
			o.failOrRetry(ctx, logger, job, spec, err)
			return
		}
	}
	now := nowMillis()
	committed, err := o.stages.CompleteTranscription(ctx, note.ID, job.ID, transcript, now)
	if err != nil {
		logger.Error("commit transcription failed", zap.Error(err))
		o.failOrRetry(ctx, logger, job, spec, ai.Transient(err))
		return
	}
	if !committed {
		logger.Warn("transcription discarded, note deleted or job cancelled mid-call")
		return
	}
	o.enqueueStage(ctx, logger, note.ID, spec.nextStage, job.Priority)
	logger.Info("transcription committed", zap.Int("chars", len(transcript)))
}

func (o *Orchestrator) runAnalyze(ctx context.Context, logger *zap.Logger, job *model.Job, note *model.Note, spec stageSpec) {
	result, err := o.analyzer.Analyze(ctx, note.Transcript)
	now := nowMillis()
	if err != nil {
		kind := ai.KindOf(err)
		if kind == ai.KindTransient && job.Attempt < o.cfg.MaxAttempts {
			o.reschedule(ctx, logger, job, spec, err)
			return
		}
		// analysis is optional enrichment: record the failure, continue
		// to embedding on the transcript alone
		committed, degradeErr := o.stages.DegradeAnalysis(ctx, note.ID, job.ID, kind.String(), err.Error(), now)
		if degradeErr != nil {
			logger.Error("degrade analysis failed", zap.Error(degradeErr))
			return
		}
		if !committed {
			logger.Warn("analysis degrade discarded, note deleted or job cancelled mid-call")
			return
		}
		logger.Warn("analysis unavailable, continuing degraded", zap.Error(err))
		o.advanceToEmbedding(ctx, logger, note.ID, job.Priority)
		return
	}
	committed, err := o.stages.CompleteAnalysis(ctx, note.ID, job.ID, result.Summary, result.Tags, now)
	if err != nil {
		logger.Error("commit analysis failed", zap.Error(err))
		if job.Attempt < o.cfg.MaxAttempts {
			o.reschedule(ctx, logger, job, spec, ai.Transient(err))
			return
		}
		committed, degradeErr := o.stages.DegradeAnalysis(ctx, note.ID, job.ID, ai.KindTransient.String(), err.Error(), nowMillis())
		if degradeErr != nil || !committed {
			logger.Error("degrade analysis failed", zap.Error(degradeErr))
			return
		}
		o.advanceToEmbedding(ctx, logger, note.ID, job.Priority)
		return
	}
	if !committed {
		logger.Warn("analysis discarded, note deleted or job cancelled mid-call")
		return
	}
	o.advanceToEmbedding(ctx, logger, note.ID, job.Priority)
	logger.Info("analysis committed", zap.String("summary", result.Summary), zap.Int("tags", len(result.Tags)))
}

func (o *Orchestrator) runEmbed(ctx context.Context, logger *zap.Logger, job *model.Job, note *model.Note, spec stageSpec) {
	vec, err := o.embedder.Embed(ctx, embeddingText(note), "RETRIEVAL_DOCUMENT")
	if err != nil {
		o.failOrRetry(ctx, logger, job, spec, err)
		return
	}
	now := nowMillis()
	rec := &model.EmbeddingRecord{
		NoteID:       note.ID,
		OwnerID:      note.OwnerID,
		ModelVersion: o.embedder.EmbeddingModelVersion(),
		Vector:       vec,
		Ctime:        now,
	}
	committed, firstIndexed, err := o.stages.CompleteEmbedding(ctx, rec, job.ID, now)
	if err != nil {
		logger.Error("commit embedding failed", zap.Error(err))
		o.failOrRetry(ctx, logger, job, spec, ai.Transient(err))
		return
	}
	if !committed {
		// deleted or cancelled mid-call: make sure no partial entry stays
		o.idx.Remove(note.ID)
		logger.Warn("embedding discarded, note deleted or job cancelled mid-call")
		return
	}
	// the index write is strictly after the durable record commit, so the
	// index is at worst one stage behind the record of truth, never ahead
	o.idx.Upsert(note.ID, note.OwnerID, vec, rec.ModelVersion, now)
	logger.Info("note indexed", zap.String("model_version", rec.ModelVersion))
	if firstIndexed {
		o.sendNotification(ctx, logger, note)
	}
}

// advanceToEmbedding moves an analyzed note to the embedding checkpoint
// and enqueues the embed job. Checkpoint first: if we crash in between,
// the reconciler finds an embedding_pending note without a job and
// re-enqueues it.
func (o *Orchestrator) advanceToEmbedding(ctx context.Context, logger *zap.Logger, noteID string, priority int) {
	now := nowMillis()
	moved, err := o.notes.UpdateStatusIf(ctx, noteID, model.NoteStatusAnalyzed, model.NoteStatusEmbeddingPending, now)
	if err != nil {
		logger.Error("advance to embedding failed", zap.Error(err))
		return
	}
	if !moved {
		logger.Warn("note left analyzed state before embedding was scheduled")
		return
	}
	o.enqueueStage(ctx, logger, noteID, model.StageEmbed, priority)
}

func (o *Orchestrator) enqueueStage(ctx context.Context, logger *zap.Logger, noteID, stage string, priority int) {
	if stage == "" {
		return
	}
	now := nowMillis()
	job := &model.Job{
		ID:            model.NewID(),
		NoteID:        noteID,
		Stage:         stage,
		Priority:      priority,
		Status:        model.JobStatusPending,
		NextAttemptAt: now,
		Ctime:         now,
		Mtime:         now,
	}
	if err := o.jobs.Enqueue(ctx, job); err != nil {
		if appErr.IsConflict(err) {
			logger.Warn("stage already scheduled", zap.String("next_stage", stage))
			return
		}
		// the reconciler will pick this note up: checkpoint without a job
		logger.Error("enqueue next stage failed", zap.String("next_stage", stage), zap.Error(err))
	}
}

func (o *Orchestrator) failOrRetry(ctx context.Context, logger *zap.Logger, job *model.Job, spec stageSpec, callErr error) {
	kind := ai.KindOf(callErr)
	now := nowMillis()
	if kind == ai.KindTransient && job.Attempt < o.cfg.MaxAttempts {
		o.reschedule(ctx, logger, job, spec, callErr)
		return
	}
	committed, err := o.stages.FailStage(ctx, job.NoteID, job.ID,
		spec.inFlight, spec.failed, kind.String(), callErr.Error(), job.Attempt, now)
	if err != nil {
		logger.Error("record stage failure failed", zap.Error(err))
		return
	}
	if !committed {
		logger.Warn("stage failure discarded, note deleted mid-call")
		return
	}
	logger.Error("stage failed terminally",
		zap.String("error_kind", kind.String()),
		zap.Int("attempts", job.Attempt),
		zap.Error(callErr))
}

func (o *Orchestrator) reschedule(ctx context.Context, logger *zap.Logger, job *model.Job, spec stageSpec, callErr error) {
	now := nowMillis()
	delay := Backoff(o.cfg.BaseBackoff, o.cfg.MaxBackoff, job.Attempt)
	committed, err := o.stages.RescheduleStage(ctx, job.NoteID, job.ID,
		spec.inFlight, spec.from, job.Attempt, now+delay.Milliseconds(), callErr.Error(), now)
	if err != nil {
		logger.Error("reschedule failed", zap.Error(err))
		return
	}
	if !committed {
		logger.Warn("reschedule discarded, note deleted mid-call")
		return
	}
	logger.Warn("transient stage failure, retrying",
		zap.Duration("delay", delay),
		zap.Error(callErr))
}

func (o *Orchestrator) sendNotification(ctx context.Context, logger *zap.Logger, note *model.Note) {
	message := note.Summary
	if message == "" {
		message = snippet(note.Transcript, 120)
	}
	if err := o.notifier.Notify(ctx, note.OwnerID, "Note ready", message); err != nil {
		// best-effort: the note stays indexed either way
		logger.Warn("notify failed", zap.Error(err))
		return
	}
	logger.Info("completion notification sent")
}

func embeddingText(note *model.Note) string {
	if note.Summary != "" && !note.AnalysisDegraded {
		return note.Summary + "\n" + note.Transcript
	}
	return note.Transcript
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func mimeTypeFor(audioRef string) string {
	if mt := mime.TypeByExtension(filepath.Ext(audioRef)); mt != "" {
		return mt
	}
	return "audio/wav"
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
