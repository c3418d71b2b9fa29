package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voxnote/internal/model"
	"github.com/xxxsen/voxnote/internal/repo"
	"github.com/xxxsen/voxnote/test/testutil"
)

func TestPipelineRepoStageCommitIsAtomic(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.Reset(t, db)

	notes := repo.NewNoteRepo(db)
	jobs := repo.NewJobRepo(db)
	stages := repo.NewPipelineRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, notes.Create(ctx, newNote("n1", "owner-1", model.NoteStatusTranscribing)))
	require.NoError(t, jobs.Enqueue(ctx, newJob("j1", "n1", model.StageTranscribe, model.PriorityUser, now)))
	claimed, err := jobs.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	committed, err := stages.CompleteTranscription(ctx, "n1", "j1", "hello world", now)
	require.NoError(t, err)
	require.True(t, committed)

	note, err := notes.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, model.NoteStatusTranscribed, note.Status)
	require.Equal(t, "hello world", note.Transcript)
	status, err := jobs.Status(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusDone, status)
}

func TestPipelineRepoCancelledJobRollsBackCommit(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.Reset(t, db)

	notes := repo.NewNoteRepo(db)
	jobs := repo.NewJobRepo(db)
	stages := repo.NewPipelineRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, notes.Create(ctx, newNote("n1", "owner-1", model.NoteStatusTranscribing)))
	require.NoError(t, jobs.Enqueue(ctx, newJob("j1", "n1", model.StageTranscribe, model.PriorityUser, now)))
	claimed, err := jobs.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// a delete cancels the job while the adapter call is in flight
	require.NoError(t, jobs.CancelByNote(ctx, "n1", now))

	committed, err := stages.CompleteTranscription(ctx, "n1", "j1", "hello world", now)
	require.NoError(t, err)
	require.False(t, committed)

	// the whole transaction rolled back: the note kept its state
	note, err := notes.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, model.NoteStatusTranscribing, note.Status)
	require.Empty(t, note.Transcript)
}

func TestPipelineRepoCompleteEmbeddingNotifiesOnce(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.Reset(t, db)

	notes := repo.NewNoteRepo(db)
	jobs := repo.NewJobRepo(db)
	embeddings := repo.NewEmbeddingRepo(db)
	stages := repo.NewPipelineRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, notes.Create(ctx, newNote("n1", "owner-1", model.NoteStatusEmbedding)))
	require.NoError(t, jobs.Enqueue(ctx, newJob("j1", "n1", model.StageEmbed, model.PriorityUser, now)))
	claimed, err := jobs.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	rec := &model.EmbeddingRecord{
		NoteID: "n1", OwnerID: "owner-1", ModelVersion: "embed-v1",
		Vector: []float32{1, 0, 0}, Ctime: now,
	}
	committed, firstIndexed, err := stages.CompleteEmbedding(ctx, rec, "j1", now)
	require.NoError(t, err)
	require.True(t, committed)
	require.True(t, firstIndexed)

	stored, err := embeddings.Get(ctx, "n1", "embed-v1")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0, 0}, stored.Vector)

	// a re-embedding of the same note must not notify again
	moved, err := notes.UpdateStatusIf(ctx, "n1", model.NoteStatusIndexed, model.NoteStatusEmbedding, now)
	require.NoError(t, err)
	require.True(t, moved)
	require.NoError(t, jobs.Enqueue(ctx, newJob("j2", "n1", model.StageEmbed, model.PriorityUser, now)))
	claimed, err = jobs.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	rec.ModelVersion = "embed-v2"
	committed, firstIndexed, err = stages.CompleteEmbedding(ctx, rec, "j2", now)
	require.NoError(t, err)
	require.True(t, committed)
	require.False(t, firstIndexed)

	// the new model version superseded the old record
	_, err = embeddings.Get(ctx, "n1", "embed-v1")
	require.Error(t, err)
	note, err := notes.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "embed-v2", note.EmbedModelVersion)
}

func TestPipelineRepoRescheduleRecordsRetry(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.Reset(t, db)

	notes := repo.NewNoteRepo(db)
	jobs := repo.NewJobRepo(db)
	stages := repo.NewPipelineRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, notes.Create(ctx, newNote("n1", "owner-1", model.NoteStatusTranscribing)))
	require.NoError(t, jobs.Enqueue(ctx, newJob("j1", "n1", model.StageTranscribe, model.PriorityUser, now)))
	_, err := jobs.ClaimNext(ctx, now)
	require.NoError(t, err)

	ok, err := stages.RescheduleStage(ctx, "n1", "j1",
		model.NoteStatusTranscribing, model.NoteStatusUploaded, 1, now+5000, "provider timeout", now)
	require.NoError(t, err)
	require.True(t, ok)

	note, err := notes.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, model.NoteStatusUploaded, note.Status)
	require.Equal(t, 1, note.RetryCount)

	job, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusPending, job.Status)
	require.Equal(t, now+5000, job.NextAttemptAt)
	require.Equal(t, "provider timeout", job.LastError)
}
