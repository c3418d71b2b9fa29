package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
)

// Source is the durable record of truth the index can be regenerated from.
type Source interface {
	ListByModelVersion(ctx context.Context, modelVersion string) ([]model.EmbeddingRecord, error)
}

type entry struct {
	ownerID      string
	vector       []float32
	modelVersion string
	updatedAt    int64
}

type Match struct {
	NoteID string
	Score  float32
}

// Manager owns the note_id -> vector mapping used for nearest-neighbor
// queries. One logical writer (the pipeline), many concurrent readers.
// An entry exists iff the note finished the embedding stage for the
// current model version and has not been deleted.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]entry
	source  Source
}

func NewManager(source Source) *Manager {
	return &Manager{
		entries: make(map[string]entry),
		source:  source,
	}
}

// Upsert replaces any existing entry for the note. Last writer wins,
// including across model versions.
func (m *Manager) Upsert(noteID, ownerID string, vector []float32, modelVersion string, updatedAt int64) {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	m.mu.Lock()
	m.entries[noteID] = entry{
		ownerID:      ownerID,
		vector:       vec,
		modelVersion: modelVersion,
		updatedAt:    updatedAt,
	}
	m.mu.Unlock()
}

func (m *Manager) Remove(noteID string) {
	m.mu.Lock()
	delete(m.entries, noteID)
	m.mu.Unlock()
}

func (m *Manager) Has(noteID string) bool {
	m.mu.RLock()
	_, ok := m.entries[noteID]
	m.mu.RUnlock()
	return ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Vector returns the stored vector for a note, for similar-note queries.
func (m *Manager) Vector(noteID string) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[noteID]
	if !ok {
		return nil, false
	}
	vec := make([]float32, len(e.vector))
	copy(vec, e.vector)
	return vec, true
}

// Query scans entries belonging to ownerID and returns up to k matches
// ranked by cosine similarity descending, ties broken by most recent
// update. The owner filter is applied during the scan, never after
// truncation, so results are short-filled rather than padded. A dimension
// mismatch between the query and a stored vector is a hard error.
func (m *Manager) Query(vector []float32, k int, ownerID string) ([]Match, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, appErr.ErrInvalid
	}
	type scored struct {
		noteID    string
		score     float32
		updatedAt int64
	}
	m.mu.RLock()
	candidates := make([]scored, 0, len(m.entries))
	for noteID, e := range m.entries {
		if ownerID != "" && e.ownerID != ownerID {
			continue
		}
		if len(e.vector) != len(vector) {
			m.mu.RUnlock()
			return nil, appErr.ErrDimension
		}
		candidates = append(candidates, scored{
			noteID:    noteID,
			score:     cosineSimilarity(vector, e.vector),
			updatedAt: e.updatedAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].updatedAt > candidates[j].updatedAt
	})
	if k > len(candidates) {
		k = len(candidates)
	}
	result := make([]Match, 0, k)
	for i := 0; i < k; i++ {
		result = append(result, Match{NoteID: candidates[i].noteID, Score: candidates[i].score})
	}
	return result, nil
}

// Rebuild regenerates the whole index from embedding records for the given
// model version, dropping everything else. Required when the embedding
// model changes dimension or semantics.
func (m *Manager) Rebuild(ctx context.Context, modelVersion string) error {
	records, err := m.source.ListByModelVersion(ctx, modelVersion)
	if err != nil {
		return err
	}
	fresh := make(map[string]entry, len(records))
	for _, rec := range records {
		fresh[rec.NoteID] = entry{
			ownerID:      rec.OwnerID,
			vector:       rec.Vector,
			modelVersion: rec.ModelVersion,
			updatedAt:    rec.Ctime,
		}
	}
	m.mu.Lock()
	m.entries = fresh
	m.mu.Unlock()
	logutil.GetLogger(ctx).Info("vector index rebuilt",
		zap.String("model_version", modelVersion),
		zap.Int("entries", len(fresh)))
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
