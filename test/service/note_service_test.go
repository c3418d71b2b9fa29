package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voxnote/internal/config"
	"github.com/xxxsen/voxnote/internal/filestore"
	"github.com/xxxsen/voxnote/internal/index"
	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
	"github.com/xxxsen/voxnote/internal/repo"
	"github.com/xxxsen/voxnote/internal/service"
	"github.com/xxxsen/voxnote/test/testutil"
)

type noteEnv struct {
	svc        *service.NoteService
	notes      *repo.NoteRepo
	jobs       *repo.JobRepo
	embeddings *repo.EmbeddingRepo
	audio      filestore.Store
	idx        *index.Manager
}

func newNoteEnv(t *testing.T, queueLimit int) (*noteEnv, func()) {
	t.Helper()
	db, cleanup := testutil.OpenTestDB(t)
	testutil.Reset(t, db)

	audio, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)

	notes := repo.NewNoteRepo(db)
	jobs := repo.NewJobRepo(db)
	embeddings := repo.NewEmbeddingRepo(db)
	idx := index.NewManager(embeddings)
	env := &noteEnv{
		svc:        service.NewNoteService(notes, jobs, embeddings, audio, idx, queueLimit),
		notes:      notes,
		jobs:       jobs,
		embeddings: embeddings,
		audio:      audio,
		idx:        idx,
	}
	return env, cleanup
}

func TestNoteUploadQueuesTranscription(t *testing.T) {
	env, cleanup := newNoteEnv(t, 4)
	defer cleanup()

	note, err := env.svc.Upload(context.Background(), "owner-1", "memo.wav", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	require.Equal(t, model.NoteStatusUploaded, note.Status)

	job, err := env.jobs.GetOutstandingByNote(context.Background(), note.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, model.StageTranscribe, job.Stage)
	require.Equal(t, model.PriorityUser, job.Priority)

	rc, err := env.audio.Open(context.Background(), note.AudioRef)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}

func TestNoteUploadRejectsUnknownExtension(t *testing.T) {
	env, cleanup := newNoteEnv(t, 4)
	defer cleanup()

	_, err := env.svc.Upload(context.Background(), "owner-1", "memo.exe", strings.NewReader("audio-bytes"))
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestNoteUploadRejectsWhenQueueFull(t *testing.T) {
	env, cleanup := newNoteEnv(t, 1)
	defer cleanup()

	_, err := env.svc.Upload(context.Background(), "owner-1", "first.wav", strings.NewReader("audio-bytes"))
	require.NoError(t, err)

	// the first upload's transcribe job is still outstanding
	_, err = env.svc.Upload(context.Background(), "owner-1", "second.wav", strings.NewReader("audio-bytes"))
	require.ErrorIs(t, err, appErr.ErrQueueFull)

	notes, err := env.notes.ListByOwner(context.Background(), "owner-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1, "a rejected upload must leave no note behind")
}

func TestNoteEditConflictsWithOutstandingJob(t *testing.T) {
	env, cleanup := newNoteEnv(t, 4)
	defer cleanup()

	note, err := env.svc.Upload(context.Background(), "owner-1", "memo.wav", strings.NewReader("audio-bytes"))
	require.NoError(t, err)

	_, err = env.svc.Edit(context.Background(), "owner-1", note.ID, "fixed text")
	require.ErrorIs(t, err, appErr.ErrConflict)
}

func TestNoteEditSchedulesReembedding(t *testing.T) {
	env, cleanup := newNoteEnv(t, 4)
	defer cleanup()

	now := time.Now().UnixMilli()
	require.NoError(t, env.notes.Create(context.Background(), &model.Note{
		ID: "n1", OwnerID: "owner-1", Status: model.NoteStatusIndexed,
		AudioRef: "n1.wav", Transcript: "old text",
		EmbedModelVersion: "embed-v1", Ctime: now, Mtime: now,
	}))
	require.NoError(t, env.embeddings.Upsert(context.Background(), &model.EmbeddingRecord{
		NoteID: "n1", OwnerID: "owner-1", ModelVersion: "embed-v1",
		Vector: []float32{1, 0, 0}, Ctime: now,
	}))
	env.idx.Upsert("n1", "owner-1", []float32{1, 0, 0}, "embed-v1", now)

	note, err := env.svc.Edit(context.Background(), "owner-1", "n1", "new text")
	require.NoError(t, err)
	require.Equal(t, model.NoteStatusEmbeddingPending, note.Status)
	require.Equal(t, "new text", note.Transcript)

	// the stale vector must be gone everywhere before the new one lands
	require.False(t, env.idx.Has("n1"))
	_, err = env.embeddings.Get(context.Background(), "n1", "embed-v1")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	job, err := env.jobs.GetOutstandingByNote(context.Background(), "n1")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, model.StageEmbed, job.Stage)
}

func TestNoteEditForeignOwnerNotFound(t *testing.T) {
	env, cleanup := newNoteEnv(t, 4)
	defer cleanup()

	now := time.Now().UnixMilli()
	require.NoError(t, env.notes.Create(context.Background(), &model.Note{
		ID: "n1", OwnerID: "owner-1", Status: model.NoteStatusIndexed,
		AudioRef: "n1.wav", Transcript: "old text", Ctime: now, Mtime: now,
	}))

	_, err := env.svc.Edit(context.Background(), "owner-2", "n1", "hijacked")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestNoteDeleteSweepsEverything(t *testing.T) {
	env, cleanup := newNoteEnv(t, 4)
	defer cleanup()

	note, err := env.svc.Upload(context.Background(), "owner-1", "memo.wav", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	now := time.Now().UnixMilli()
	require.NoError(t, env.embeddings.Upsert(context.Background(), &model.EmbeddingRecord{
		NoteID: note.ID, OwnerID: "owner-1", ModelVersion: "embed-v1",
		Vector: []float32{1, 0, 0}, Ctime: now,
	}))
	env.idx.Upsert(note.ID, "owner-1", []float32{1, 0, 0}, "embed-v1", now)
	job, err := env.jobs.GetOutstandingByNote(context.Background(), note.ID)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, env.svc.Delete(context.Background(), "owner-1", note.ID))

	_, err = env.notes.GetForOwner(context.Background(), "owner-1", note.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	status, err := env.jobs.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusCancelled, status)
	_, err = env.embeddings.Get(context.Background(), note.ID, "embed-v1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.False(t, env.idx.Has(note.ID))
	_, err = env.audio.Open(context.Background(), note.AudioRef)
	require.Error(t, err)
}
