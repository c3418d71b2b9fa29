package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/voxnote/internal/model"
	"github.com/xxxsen/voxnote/internal/pkg/dbutil"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
)

const noteColumns = `id, owner_id, status, audio_ref, transcript, summary, tags_json, embed_model_version, analysis_degraded, notified, error_kind, error_message, retry_count, ctime, mtime`

type NoteRepo struct {
	db *sql.DB
}

func NewNoteRepo(db *sql.DB) *NoteRepo {
	return &NoteRepo{db: db}
}

func (r *NoteRepo) Create(ctx context.Context, note *model.Note) error {
	tagsJSON, err := json.Marshal(note.Tags)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO notes (id, owner_id, status, audio_ref, transcript, summary, tags_json, embed_model_version, analysis_degraded, notified, error_kind, error_message, retry_count, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.ExecContext(ctx, query,
		note.ID,
		note.OwnerID,
		note.Status,
		note.AudioRef,
		note.Transcript,
		note.Summary,
		string(tagsJSON),
		note.EmbedModelVersion,
		boolToInt(note.AnalysisDegraded),
		boolToInt(note.Notified),
		note.ErrorKind,
		note.ErrorMessage,
		note.RetryCount,
		note.Ctime,
		note.Mtime,
	)
	return err
}

func (r *NoteRepo) Get(ctx context.Context, noteID string) (*model.Note, error) {
	const query = `SELECT ` + noteColumns + ` FROM notes WHERE id = $1`
	return scanNote(r.db.QueryRowContext(ctx, query, noteID))
}

func (r *NoteRepo) GetForOwner(ctx context.Context, ownerID, noteID string) (*model.Note, error) {
	const query = `SELECT ` + noteColumns + ` FROM notes WHERE id = $1 AND owner_id = $2`
	return scanNote(r.db.QueryRowContext(ctx, query, noteID, ownerID))
}

// UpdateStatusIf moves a note between states only when the current state
// matches, so two workers can never race the same transition.
func (r *NoteRepo) UpdateStatusIf(ctx context.Context, noteID, fromStatus, toStatus string, mtime int64) (bool, error) {
	const query = `
		UPDATE notes
		SET status = $1, mtime = $2
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, toStatus, mtime, noteID, fromStatus)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ApplyEdit overwrites the transcript of a resting note and pushes it back
// to the embedding stage. Edits of a note whose pipeline is still running
// do not match and are reported as a conflict by the caller.
func (r *NoteRepo) ApplyEdit(ctx context.Context, ownerID, noteID, transcript string, mtime int64) (bool, error) {
	const query = `
		UPDATE notes
		SET transcript = $1,
		    status = $2,
		    embed_model_version = '',
		    error_kind = '',
		    error_message = '',
		    retry_count = 0,
		    mtime = $3
		WHERE id = $4 AND owner_id = $5 AND status IN ($6, $7, $8)
	`
	res, err := r.db.ExecContext(ctx, query,
		transcript,
		model.NoteStatusEmbeddingPending,
		mtime,
		noteID,
		ownerID,
		model.NoteStatusIndexed,
		model.NoteStatusFailedTranscribing,
		model.NoteStatusFailedEmbedding,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *NoteRepo) Delete(ctx context.Context, ownerID, noteID string) error {
	const query = `DELETE FROM notes WHERE id = $1 AND owner_id = $2`
	res, err := r.db.ExecContext(ctx, query, noteID, ownerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *NoteRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Note, error) {
	where := map[string]interface{}{
		"owner_id": ownerID,
		"_orderby": "ctime desc",
		"_limit":   []uint{uint(offset), uint(limit)},
	}
	sqlStr, args, err := builder.BuildSelect("notes", where, []string{noteColumns})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.queryNotes(ctx, sqlStr, args...)
}

func (r *NoteRepo) ListByStatuses(ctx context.Context, statuses []string) ([]model.Note, error) {
	where := map[string]interface{}{
		"status in": statuses,
	}
	sqlStr, args, err := builder.BuildSelect("notes", where, []string{noteColumns})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.queryNotes(ctx, sqlStr, args...)
}

// ListIndexedStaleModel finds indexed notes whose embedding was produced by
// a different model version, candidates for maintenance re-embedding.
func (r *NoteRepo) ListIndexedStaleModel(ctx context.Context, currentVersion string, limit int) ([]model.Note, error) {
	const query = `
		SELECT ` + noteColumns + `
		FROM notes
		WHERE status = $1 AND embed_model_version <> $2
		ORDER BY mtime ASC
		LIMIT $3
	`
	return r.queryNotes(ctx, query, model.NoteStatusIndexed, currentVersion, limit)
}

func (r *NoteRepo) queryNotes(ctx context.Context, query string, args ...interface{}) ([]model.Note, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []model.Note
	for rows.Next() {
		note, err := scanNoteRow(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNoteRow(row rowScanner) (*model.Note, error) {
	var note model.Note
	var tagsJSON string
	var degraded, notified int
	if err := row.Scan(
		&note.ID,
		&note.OwnerID,
		&note.Status,
		&note.AudioRef,
		&note.Transcript,
		&note.Summary,
		&tagsJSON,
		&note.EmbedModelVersion,
		&degraded,
		&notified,
		&note.ErrorKind,
		&note.ErrorMessage,
		&note.RetryCount,
		&note.Ctime,
		&note.Mtime,
	); err != nil {
		return nil, err
	}
	note.AnalysisDegraded = degraded == 1
	note.Notified = notified == 1
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &note.Tags)
	}
	return &note, nil
}

func scanNote(row *sql.Row) (*model.Note, error) {
	note, err := scanNoteRow(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
