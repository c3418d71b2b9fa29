package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/voxnote/internal/model"
	"github.com/xxxsen/voxnote/internal/pkg/dbutil"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
)

const jobColumns = `id, note_id, stage, priority, attempt, status, next_attempt_at, last_error, ctime, mtime`

type JobRepo struct {
	db *sql.DB
}

func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

// Enqueue inserts a pending job. The partial unique index on note_id for
// non-terminal jobs turns a second outstanding job for the same note into
// ErrConflict, which is how per-note serialization is enforced.
func (r *JobRepo) Enqueue(ctx context.Context, job *model.Job) error {
	const query = `
		INSERT INTO note_jobs (id, note_id, stage, priority, attempt, status, next_attempt_at, last_error, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.NoteID,
		job.Stage,
		job.Priority,
		job.Attempt,
		job.Status,
		job.NextAttemptAt,
		job.LastError,
		job.Ctime,
		job.Mtime,
	)
	if err != nil {
		if dbutil.IsUniqueViolation(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

// ClaimNext atomically picks the runnable job with the highest precedence
// (lowest priority value, then earliest next_attempt_at) and marks it
// running. SKIP LOCKED keeps concurrent workers from fighting over rows.
// Returns nil when nothing is runnable.
func (r *JobRepo) ClaimNext(ctx context.Context, now int64) (*model.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const selectQuery = `
		SELECT ` + jobColumns + `
		FROM note_jobs
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY priority ASC, next_attempt_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	row := tx.QueryRowContext(ctx, selectQuery, model.JobStatusPending, now)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	const claimQuery = `
		UPDATE note_jobs
		SET status = $1, attempt = attempt + 1, mtime = $2
		WHERE id = $3
	`
	if _, err := tx.ExecContext(ctx, claimQuery, model.JobStatusRunning, now, job.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	job.Status = model.JobStatusRunning
	job.Attempt++
	job.Mtime = now
	return job, nil
}

func (r *JobRepo) Get(ctx context.Context, jobID string) (*model.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM note_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	return job, err
}

// GetOutstandingByNote returns the single non-terminal job for a note, or
// nil when the note's pipeline is at rest.
func (r *JobRepo) GetOutstandingByNote(ctx context.Context, noteID string) (*model.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM note_jobs
		WHERE note_id = $1 AND status IN ($2, $3)
	`
	row := r.db.QueryRowContext(ctx, query, noteID, model.JobStatusPending, model.JobStatusRunning)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *JobRepo) CountOutstanding(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(1) FROM note_jobs WHERE status IN ($1, $2)`
	var count int
	err := r.db.QueryRowContext(ctx, query, model.JobStatusPending, model.JobStatusRunning).Scan(&count)
	return count, err
}

// MarkCancelled flips a single running job to cancelled. Returns false when
// the job already left the running state.
func (r *JobRepo) MarkCancelled(ctx context.Context, jobID string, mtime int64) (bool, error) {
	const query = `
		UPDATE note_jobs
		SET status = $1, mtime = $2
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query,
		model.JobStatusCancelled, mtime, jobID, model.JobStatusRunning)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// Requeue puts a running job back in the pending queue without touching its
// attempt counter, scheduled for nextAttemptAt.
func (r *JobRepo) Requeue(ctx context.Context, jobID string, nextAttemptAt int64, lastErr string, mtime int64) (bool, error) {
	const query = `
		UPDATE note_jobs
		SET status = $1, next_attempt_at = $2, last_error = $3, mtime = $4
		WHERE id = $5 AND status = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		model.JobStatusPending, nextAttemptAt, lastErr, mtime, jobID, model.JobStatusRunning)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// CancelByNote flips any outstanding job for the note to cancelled. A
// worker holding the job discovers this when its commit matches zero rows.
func (r *JobRepo) CancelByNote(ctx context.Context, noteID string, mtime int64) error {
	const query = `
		UPDATE note_jobs
		SET status = $1, mtime = $2
		WHERE note_id = $3 AND status IN ($4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		model.JobStatusCancelled, mtime, noteID, model.JobStatusPending, model.JobStatusRunning)
	return err
}

// ListRunningBefore returns running jobs untouched since cutoff, i.e. jobs
// whose worker likely died mid-call.
func (r *JobRepo) ListRunningBefore(ctx context.Context, cutoff int64) ([]*model.Job, error) {
	const query = `
		SELECT ` + jobColumns + `
		FROM note_jobs
		WHERE status = $1 AND mtime < $2
	`
	rows, err := r.db.QueryContext(ctx, query, model.JobStatusRunning, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) Status(ctx context.Context, jobID string) (string, error) {
	const query = `SELECT status FROM note_jobs WHERE id = $1`
	var status string
	if err := r.db.QueryRowContext(ctx, query, jobID).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return "", appErr.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `
		DELETE FROM note_jobs
		WHERE status IN ($1, $2, $3) AND mtime < $4
	`
	res, err := r.db.ExecContext(ctx, query,
		model.JobStatusDone, model.JobStatusCancelled, model.JobStatusFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	if err := row.Scan(
		&job.ID,
		&job.NoteID,
		&job.Stage,
		&job.Priority,
		&job.Attempt,
		&job.Status,
		&job.NextAttemptAt,
		&job.LastError,
		&job.Ctime,
		&job.Mtime,
	); err != nil {
		return nil, err
	}
	return &job, nil
}
