package repo

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
)

type EmbeddingRepo struct {
	db *sql.DB
}

func NewEmbeddingRepo(db *sql.DB) *EmbeddingRepo {
	return &EmbeddingRepo{db: db}
}

func (r *EmbeddingRepo) Upsert(ctx context.Context, rec *model.EmbeddingRecord) error {
	const query = `
		INSERT INTO note_embeddings (note_id, owner_id, model_version, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (note_id, model_version) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			ctime = EXCLUDED.ctime
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.NoteID,
		rec.OwnerID,
		rec.ModelVersion,
		pgvector.NewVector(rec.Vector),
		rec.Ctime,
	)
	return err
}

func (r *EmbeddingRepo) Get(ctx context.Context, noteID, modelVersion string) (*model.EmbeddingRecord, error) {
	const query = `
		SELECT note_id, owner_id, model_version, embedding, ctime
		FROM note_embeddings
		WHERE note_id = $1 AND model_version = $2
	`
	row := r.db.QueryRowContext(ctx, query, noteID, modelVersion)
	rec, err := scanEmbedding(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	return rec, err
}

func (r *EmbeddingRepo) DeleteByNote(ctx context.Context, noteID string) error {
	const query = `DELETE FROM note_embeddings WHERE note_id = $1`
	_, err := r.db.ExecContext(ctx, query, noteID)
	return err
}

func (r *EmbeddingRepo) ListByModelVersion(ctx context.Context, modelVersion string) ([]model.EmbeddingRecord, error) {
	const query = `
		SELECT note_id, owner_id, model_version, embedding, ctime
		FROM note_embeddings
		WHERE model_version = $1
	`
	rows, err := r.db.QueryContext(ctx, query, modelVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.EmbeddingRecord
	for rows.Next() {
		rec, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// DeleteSuperseded removes records for retired model versions once no note
// still references them. Stale records are superseded, never merged.
func (r *EmbeddingRepo) DeleteSuperseded(ctx context.Context, currentVersion string) (int64, error) {
	const query = `
		DELETE FROM note_embeddings e
		WHERE e.model_version <> $1
		  AND EXISTS (
			SELECT 1 FROM note_embeddings cur
			WHERE cur.note_id = e.note_id AND cur.model_version = $1
		  )
	`
	res, err := r.db.ExecContext(ctx, query, currentVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEmbedding(row rowScanner) (*model.EmbeddingRecord, error) {
	var rec model.EmbeddingRecord
	var vec pgvector.Vector
	if err := row.Scan(&rec.NoteID, &rec.OwnerID, &rec.ModelVersion, &vec, &rec.Ctime); err != nil {
		return nil, err
	}
	rec.Vector = vec.Slice()
	return &rec, nil
}
