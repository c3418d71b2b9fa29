package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
	"github.com/xxxsen/voxnote/internal/repo"
	"github.com/xxxsen/voxnote/test/testutil"
)

func newJob(jobID, noteID, stage string, priority int, nextAttemptAt int64) *model.Job {
	now := time.Now().UnixMilli()
	return &model.Job{
		ID:            jobID,
		NoteID:        noteID,
		Stage:         stage,
		Priority:      priority,
		Status:        model.JobStatusPending,
		NextAttemptAt: nextAttemptAt,
		Ctime:         now,
		Mtime:         now,
	}
}

func TestJobRepoEnforcesOneOutstandingJobPerNote(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.Reset(t, db)

	jobs := repo.NewJobRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, jobs.Enqueue(ctx, newJob("j1", "n1", model.StageTranscribe, model.PriorityUser, now)))
	err := jobs.Enqueue(ctx, newJob("j2", "n1", model.StageEmbed, model.PriorityUser, now))
	require.ErrorIs(t, err, appErr.ErrConflict)

	// once the first job is terminal, a new one is accepted
	require.NoError(t, jobs.CancelByNote(ctx, "n1", now))
	require.NoError(t, jobs.Enqueue(ctx, newJob("j3", "n1", model.StageEmbed, model.PriorityUser, now)))
}

func TestJobRepoClaimNextRespectsPriorityAndSchedule(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.Reset(t, db)

	jobs := repo.NewJobRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, jobs.Enqueue(ctx, newJob("maint", "n1", model.StageEmbed, model.PriorityMaintenance, now-5000)))
	require.NoError(t, jobs.Enqueue(ctx, newJob("user", "n2", model.StageTranscribe, model.PriorityUser, now-1000)))
	require.NoError(t, jobs.Enqueue(ctx, newJob("future", "n3", model.StageTranscribe, model.PriorityUser, now+60000)))

	claimed, err := jobs.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "user", claimed.ID, "user priority beats older maintenance work")
	require.Equal(t, model.JobStatusRunning, claimed.Status)
	require.Equal(t, 1, claimed.Attempt)

	claimed, err = jobs.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "maint", claimed.ID)

	// the future job is not runnable yet
	claimed, err = jobs.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestJobRepoRequeueAndCancelAreGuarded(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.Reset(t, db)

	jobs := repo.NewJobRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, jobs.Enqueue(ctx, newJob("j1", "n1", model.StageTranscribe, model.PriorityUser, now)))
	claimed, err := jobs.ClaimNext(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ok, err := jobs.Requeue(ctx, "j1", now+1000, "worker restart", now)
	require.NoError(t, err)
	require.True(t, ok)

	// not running anymore: both guarded updates miss
	ok, err = jobs.Requeue(ctx, "j1", now+1000, "again", now)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = jobs.MarkCancelled(ctx, "j1", now)
	require.NoError(t, err)
	require.False(t, ok)

	requeued, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, model.JobStatusPending, requeued.Status)
	require.Equal(t, 1, requeued.Attempt, "requeue keeps the attempt counter")
	require.Equal(t, "worker restart", requeued.LastError)
}

func TestJobRepoCountAndPurge(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.Reset(t, db)

	jobs := repo.NewJobRepo(db)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, jobs.Enqueue(ctx, newJob("j1", "n1", model.StageTranscribe, model.PriorityUser, now)))
	require.NoError(t, jobs.Enqueue(ctx, newJob("j2", "n2", model.StageTranscribe, model.PriorityUser, now)))

	count, err := jobs.CountOutstanding(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, jobs.CancelByNote(ctx, "n1", now))
	count, err = jobs.CountOutstanding(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	deleted, err := jobs.DeleteTerminalBefore(ctx, now+1)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}
