package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/filestore"
	"github.com/xxxsen/voxnote/internal/index"
	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
	"github.com/xxxsen/voxnote/internal/repo"
)

var allowedAudioExts = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true,
	".flac": true, ".webm": true, ".aac": true,
}

type NoteService struct {
	notes      *repo.NoteRepo
	jobs       *repo.JobRepo
	embeddings *repo.EmbeddingRepo
	audio      filestore.Store
	idx        *index.Manager
	queueLimit int
}

func NewNoteService(notes *repo.NoteRepo, jobs *repo.JobRepo, embeddings *repo.EmbeddingRepo, audio filestore.Store, idx *index.Manager, queueLimit int) *NoteService {
	if queueLimit <= 0 {
		queueLimit = 256
	}
	return &NoteService{
		notes:      notes,
		jobs:       jobs,
		embeddings: embeddings,
		audio:      audio,
		idx:        idx,
		queueLimit: queueLimit,
	}
}

// NoteDetail pairs a note with its outstanding job, when one exists.
type NoteDetail struct {
	Note *model.Note `json:"note"`
	Job  *model.Job  `json:"job,omitempty"`
}

// Upload stores the raw audio, creates the note at the uploaded checkpoint
// and queues transcription. The queue limit pushes back before accepting the
// audio, so a saturated pipeline rejects fast instead of piling up files.
func (s *NoteService) Upload(ctx context.Context, ownerID, filename string, audio io.Reader) (*model.Note, error) {
	if ownerID == "" {
		return nil, appErr.ErrInvalid
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedAudioExts[ext] {
		return nil, appErr.ErrInvalid
	}
	outstanding, err := s.jobs.CountOutstanding(ctx)
	if err != nil {
		return nil, err
	}
	if outstanding >= s.queueLimit {
		return nil, appErr.ErrQueueFull
	}

	now := time.Now().UnixMilli()
	noteID := model.NewID()
	audioRef := noteID + ext
	if err := s.audio.Save(ctx, audioRef, audio); err != nil {
		logutil.GetLogger(ctx).Error("save audio failed", zap.Error(err))
		return nil, appErr.ErrInternal
	}
	note := &model.Note{
		ID:       noteID,
		OwnerID:  ownerID,
		Status:   model.NoteStatusUploaded,
		AudioRef: audioRef,
		Ctime:    now,
		Mtime:    now,
	}
	if err := s.notes.Create(ctx, note); err != nil {
		_ = s.audio.Delete(ctx, audioRef)
		return nil, err
	}
	if err := s.enqueueStage(ctx, noteID, model.StageTranscribe, model.PriorityUser); err != nil {
		// note stays at the uploaded checkpoint; the reconciler retries
		logutil.GetLogger(ctx).Error("enqueue transcription failed",
			zap.String("note_id", noteID), zap.Error(err))
	}
	return note, nil
}

func (s *NoteService) Get(ctx context.Context, ownerID, noteID string) (*NoteDetail, error) {
	note, err := s.notes.GetForOwner(ctx, ownerID, noteID)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetOutstandingByNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{Note: note, Job: job}, nil
}

func (s *NoteService) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Note, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.notes.ListByOwner(ctx, ownerID, limit, offset)
}

// Edit overwrites the transcript of a resting note and schedules re-embedding.
// Transcription and analysis are not repeated: the text is now operator truth.
// A note with an outstanding job cannot be edited.
func (s *NoteService) Edit(ctx context.Context, ownerID, noteID, transcript string) (*model.Note, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, appErr.ErrInvalid
	}
	if _, err := s.notes.GetForOwner(ctx, ownerID, noteID); err != nil {
		return nil, err
	}
	job, err := s.jobs.GetOutstandingByNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if job != nil {
		return nil, appErr.ErrConflict
	}
	now := time.Now().UnixMilli()
	moved, err := s.notes.ApplyEdit(ctx, ownerID, noteID, transcript, now)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, appErr.ErrConflict
	}
	// stale vectors must not serve queries against the new text
	s.idx.Remove(noteID)
	if err := s.embeddings.DeleteByNote(ctx, noteID); err != nil {
		return nil, err
	}
	if err := s.enqueueStage(ctx, noteID, model.StageEmbed, model.PriorityUser); err != nil && !appErr.IsConflict(err) {
		logutil.GetLogger(ctx).Error("enqueue re-embedding failed",
			zap.String("note_id", noteID), zap.Error(err))
	}
	return s.notes.GetForOwner(ctx, ownerID, noteID)
}

// Delete removes the note synchronously: outstanding work is cancelled, the
// embedding rows and index entry go away with the row, and the stored audio
// is cleaned up best-effort. A cancelled in-flight job discards its result
// at commit time.
func (s *NoteService) Delete(ctx context.Context, ownerID, noteID string) error {
	note, err := s.notes.GetForOwner(ctx, ownerID, noteID)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	if err := s.jobs.CancelByNote(ctx, noteID, now); err != nil {
		return err
	}
	if err := s.notes.Delete(ctx, ownerID, noteID); err != nil {
		return err
	}
	if err := s.embeddings.DeleteByNote(ctx, noteID); err != nil {
		logutil.GetLogger(ctx).Error("delete embeddings failed",
			zap.String("note_id", noteID), zap.Error(err))
	}
	s.idx.Remove(noteID)
	if err := s.audio.Delete(ctx, note.AudioRef); err != nil {
		logutil.GetLogger(ctx).Warn("delete audio failed",
			zap.String("audio_ref", note.AudioRef), zap.Error(err))
	}
	return nil
}

func (s *NoteService) enqueueStage(ctx context.Context, noteID, stage string, priority int) error {
	now := time.Now().UnixMilli()
	return s.jobs.Enqueue(ctx, &model.Job{
		ID:            model.NewID(),
		NoteID:        noteID,
		Stage:         stage,
		Priority:      priority,
		Status:        model.JobStatusPending,
		NextAttemptAt: now,
		Ctime:         now,
		Mtime:         now,
	})
}
