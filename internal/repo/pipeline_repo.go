package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/voxnote/internal/model"
)

// PipelineRepo owns the stage-commit transactions: adapter output, the
// note's forward transition and the job's terminal status land in one
// transaction, so a crash between "call succeeded" and "state persisted"
// can never silently drop work. Every commit returns false instead of
// writing when the note left the expected state or the job was cancelled
// mid-call; the caller then discards the adapter result.
type PipelineRepo struct {
	db *sql.DB
}

func NewPipelineRepo(db *sql.DB) *PipelineRepo {
	return &PipelineRepo{db: db}
}

func (r *PipelineRepo) CompleteTranscription(ctx context.Context, noteID, jobID, transcript string, mtime int64) (bool, error) {
	return r.inTx(ctx, func(tx *sql.Tx) (bool, error) {
		const noteQuery = `
			UPDATE notes
			SET transcript = $1, status = $2, error_kind = '', error_message = '', mtime = $3
			WHERE id = $4 AND status = $5
		`
		ok, err := execCAS(ctx, tx, noteQuery,
			transcript, model.NoteStatusTranscribed, mtime, noteID, model.NoteStatusTranscribing)
		if err != nil || !ok {
			return false, err
		}
		return finishJob(ctx, tx, jobID, model.JobStatusDone, "", mtime)
	})
}

func (r *PipelineRepo) CompleteAnalysis(ctx context.Context, noteID, jobID, summary string, tags []string, mtime int64) (bool, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return false, err
	}
	return r.inTx(ctx, func(tx *sql.Tx) (bool, error) {
		const noteQuery = `
			UPDATE notes
			SET summary = $1, tags_json = $2, status = $3, analysis_degraded = 0,
			    error_kind = '', error_message = '', mtime = $4
			WHERE id = $5 AND status = $6
		`
		ok, err := execCAS(ctx, tx, noteQuery,
			summary, string(tagsJSON), model.NoteStatusAnalyzed, mtime, noteID, model.NoteStatusAnalyzing)
		if err != nil || !ok {
			return false, err
		}
		return finishJob(ctx, tx, jobID, model.JobStatusDone, "", mtime)
	})
}

// DegradeAnalysis records a permanently failed analysis but keeps the
// pipeline moving: the note stays searchable by transcript-only embedding.
func (r *PipelineRepo) DegradeAnalysis(ctx context.Context, noteID, jobID, errKind, errMsg string, mtime int64) (bool, error) {
	return r.inTx(ctx, func(tx *sql.Tx) (bool, error) {
		const noteQuery = `
			UPDATE notes
			SET analysis_degraded = 1, error_kind = $1, error_message = $2, status = $3, mtime = $4
			WHERE id = $5 AND status = $6
		`
		ok, err := execCAS(ctx, tx, noteQuery,
			errKind, errMsg, model.NoteStatusAnalyzed, mtime, noteID, model.NoteStatusAnalyzing)
		if err != nil || !ok {
			return false, err
		}
		return finishJob(ctx, tx, jobID, model.JobStatusFailed, errMsg, mtime)
	})
}

// CompleteEmbedding persists the embedding record, supersedes records of
// other model versions, moves the note to indexed and closes the job, all
// atomically. firstIndexed is true exactly once per note lifetime: the
// notified flag flips inside the same transaction as the transition.
func (r *PipelineRepo) CompleteEmbedding(ctx context.Context, rec *model.EmbeddingRecord, jobID string, mtime int64) (committed bool, firstIndexed bool, err error) {
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		const noteQuery = `
			UPDATE notes
			SET status = $1, embed_model_version = $2, mtime = $3
			WHERE id = $4 AND status = $5
		`
		ok, casErr := execCAS(ctx, tx, noteQuery,
			model.NoteStatusIndexed, rec.ModelVersion, mtime, rec.NoteID, model.NoteStatusEmbedding)
		if casErr != nil {
			return casErr
		}
		if !ok {
			return errCASMiss
		}
		ok, casErr = finishJob(ctx, tx, jobID, model.JobStatusDone, "", mtime)
		if casErr != nil {
			return casErr
		}
		if !ok {
			return errCASMiss
		}
		const upsertQuery = `
			INSERT INTO note_embeddings (note_id, owner_id, model_version, embedding, ctime)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (note_id, model_version) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				ctime = EXCLUDED.ctime
		`
		if _, execErr := tx.ExecContext(ctx, upsertQuery,
			rec.NoteID, rec.OwnerID, rec.ModelVersion, pgvector.NewVector(rec.Vector), rec.Ctime); execErr != nil {
			return execErr
		}
		const supersedeQuery = `DELETE FROM note_embeddings WHERE note_id = $1 AND model_version <> $2`
		if _, execErr := tx.ExecContext(ctx, supersedeQuery, rec.NoteID, rec.ModelVersion); execErr != nil {
			return execErr
		}
		const notifyQuery = `UPDATE notes SET notified = 1 WHERE id = $1 AND notified = 0`
		res, execErr := tx.ExecContext(ctx, notifyQuery, rec.NoteID)
		if execErr != nil {
			return execErr
		}
		affected, execErr := res.RowsAffected()
		if execErr != nil {
			return execErr
		}
		firstIndexed = affected > 0
		return nil
	})
	if err == errCASMiss {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, firstIndexed, nil
}

// FailStage moves the note to its terminal failure state with the error
// recorded, and closes the job, atomically.
func (r *PipelineRepo) FailStage(ctx context.Context, noteID, jobID, fromStatus, failedStatus, errKind, errMsg string, retryCount int, mtime int64) (bool, error) {
	return r.inTx(ctx, func(tx *sql.Tx) (bool, error) {
		const noteQuery = `
			UPDATE notes
			SET status = $1, error_kind = $2, error_message = $3, retry_count = $4, mtime = $5
			WHERE id = $6 AND status = $7
		`
		ok, err := execCAS(ctx, tx, noteQuery,
			failedStatus, errKind, errMsg, retryCount, mtime, noteID, fromStatus)
		if err != nil || !ok {
			return false, err
		}
		return finishJob(ctx, tx, jobID, model.JobStatusFailed, errMsg, mtime)
	})
}

// RescheduleStage reverts the note from its in-flight verb state to the
// prior checkpoint and parks the job as pending until next_attempt_at.
func (r *PipelineRepo) RescheduleStage(ctx context.Context, noteID, jobID, fromStatus, toStatus string, retryCount int, nextAttemptAt int64, lastErr string, mtime int64) (bool, error) {
	return r.inTx(ctx, func(tx *sql.Tx) (bool, error) {
		const noteQuery = `
			UPDATE notes
			SET status = $1, retry_count = $2, mtime = $3
			WHERE id = $4 AND status = $5
		`
		ok, err := execCAS(ctx, tx, noteQuery, toStatus, retryCount, mtime, noteID, fromStatus)
		if err != nil || !ok {
			return false, err
		}
		const jobQuery = `
			UPDATE note_jobs
			SET status = $1, next_attempt_at = $2, last_error = $3, mtime = $4
			WHERE id = $5 AND status = $6
		`
		return execCAS(ctx, tx, jobQuery,
			model.JobStatusPending, nextAttemptAt, lastErr, mtime, jobID, model.JobStatusRunning)
	})
}

// errCASMiss aborts the surrounding transaction when a guarded update
// matched zero rows.
var errCASMiss = errors.New("cas miss")

func (r *PipelineRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) (bool, error)) (bool, error) {
	var ok bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var fnErr error
		ok, fnErr = fn(tx)
		if fnErr != nil {
			return fnErr
		}
		if !ok {
			return errCASMiss
		}
		return nil
	})
	if err == errCASMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *PipelineRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func execCAS(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (bool, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// finishJob closes the running job. Zero rows means the job was cancelled
// while the adapter call was in flight; the whole transaction rolls back
// and the worker discards the result.
func finishJob(ctx context.Context, tx *sql.Tx, jobID, status, lastErr string, mtime int64) (bool, error) {
	const query = `
		UPDATE note_jobs
		SET status = $1, last_error = $2, mtime = $3
		WHERE id = $4 AND status = $5
	`
	return execCAS(ctx, tx, query, status, lastErr, mtime, jobID, model.JobStatusRunning)
}
