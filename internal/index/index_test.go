package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
)

type staticSource struct {
	records []model.EmbeddingRecord
}

func (s staticSource) ListByModelVersion(_ context.Context, modelVersion string) ([]model.EmbeddingRecord, error) {
	var out []model.EmbeddingRecord
	for _, rec := range s.records {
		if rec.ModelVersion == modelVersion {
			out = append(out, rec)
		}
	}
	return out, nil
}

func seedIndex(m *Manager) {
	m.Upsert("n1", "owner-1", []float32{1, 0, 0}, "embed-v1", 100)
	m.Upsert("n2", "owner-1", []float32{0.9, 0.1, 0}, "embed-v1", 200)
	m.Upsert("n3", "owner-1", []float32{0, 1, 0}, "embed-v1", 300)
	m.Upsert("other", "owner-2", []float32{1, 0, 0}, "embed-v1", 400)
}

func TestQueryRanksByCosineSimilarity(t *testing.T) {
	m := NewManager(staticSource{})
	seedIndex(m)

	matches, err := m.Query([]float32{1, 0, 0}, 3, "owner-1")
	require.NoError(t, err)
	require.Len(t, matches, 3)
	require.Equal(t, "n1", matches[0].NoteID)
	require.InDelta(t, 1.0, matches[0].Score, 1e-6)
	require.Equal(t, "n2", matches[1].NoteID)
	require.Equal(t, "n3", matches[2].NoteID)
	require.Greater(t, matches[1].Score, matches[2].Score)
}

func TestQueryFiltersByOwner(t *testing.T) {
	m := NewManager(staticSource{})
	seedIndex(m)

	matches, err := m.Query([]float32{1, 0, 0}, 10, "owner-2")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "other", matches[0].NoteID)
}

func TestQueryShortFillsInsteadOfPadding(t *testing.T) {
	m := NewManager(staticSource{})
	m.Upsert("n1", "owner-1", []float32{1, 0, 0}, "embed-v1", 100)

	matches, err := m.Query([]float32{1, 0, 0}, 10, "owner-1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestQueryDimensionMismatchIsHardError(t *testing.T) {
	m := NewManager(staticSource{})
	seedIndex(m)

	_, err := m.Query([]float32{1, 0}, 3, "owner-1")
	require.ErrorIs(t, err, appErr.ErrDimension)
}

func TestQueryRejectsEmptyInput(t *testing.T) {
	m := NewManager(staticSource{})
	_, err := m.Query(nil, 3, "owner-1")
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = m.Query([]float32{1}, 0, "owner-1")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestUpsertCopiesVector(t *testing.T) {
	m := NewManager(staticSource{})
	vec := []float32{1, 0, 0}
	m.Upsert("n1", "owner-1", vec, "embed-v1", 100)
	vec[0] = 0

	stored, ok := m.Vector("n1")
	require.True(t, ok)
	require.Equal(t, float32(1), stored[0])
}

func TestRemoveDropsEntry(t *testing.T) {
	m := NewManager(staticSource{})
	seedIndex(m)
	require.True(t, m.Has("n1"))

	m.Remove("n1")

	require.False(t, m.Has("n1"))
	matches, err := m.Query([]float32{1, 0, 0}, 10, "owner-1")
	require.NoError(t, err)
	for _, match := range matches {
		require.NotEqual(t, "n1", match.NoteID)
	}
}

func TestRebuildReplacesEntriesFromSource(t *testing.T) {
	source := staticSource{records: []model.EmbeddingRecord{
		{NoteID: "a", OwnerID: "owner-1", ModelVersion: "embed-v2", Vector: []float32{1, 0}, Ctime: 10},
		{NoteID: "b", OwnerID: "owner-1", ModelVersion: "embed-v2", Vector: []float32{0, 1}, Ctime: 20},
		{NoteID: "stale", OwnerID: "owner-1", ModelVersion: "embed-v1", Vector: []float32{1, 1}, Ctime: 5},
	}}
	m := NewManager(source)
	m.Upsert("gone", "owner-1", []float32{1, 0}, "embed-v1", 1)

	require.NoError(t, m.Rebuild(context.Background(), "embed-v2"))

	require.Equal(t, 2, m.Len())
	require.True(t, m.Has("a"))
	require.True(t, m.Has("b"))
	require.False(t, m.Has("gone"))
	require.False(t, m.Has("stale"))
}
