package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/ai"
	"github.com/xxxsen/voxnote/internal/index"
	"github.com/xxxsen/voxnote/internal/model"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
	"github.com/xxxsen/voxnote/internal/repo"
)

const (
	defaultTopK     = 10
	maxTopK         = 50
	defaultMinScore = float32(0.55)
)

type SearchService struct {
	manager *ai.Manager
	notes   *repo.NoteRepo
	idx     *index.Manager
	cache   *expirable.LRU[string, []float32]
}

func NewSearchService(manager *ai.Manager, notes *repo.NoteRepo, idx *index.Manager) *SearchService {
	cache := expirable.NewLRU[string, []float32](10000, nil, 2*time.Hour)
	return &SearchService{
		manager: manager,
		notes:   notes,
		idx:     idx,
		cache:   cache,
	}
}

type SearchResult struct {
	Note  *model.Note `json:"note"`
	Score float32     `json:"score"`
}

type AnswerResult struct {
	Answer  string         `json:"answer"`
	Sources []SearchResult `json:"sources"`
}

// Search embeds the query and scans the owner's portion of the in-memory
// index. Results below minScore are dropped; a zero minScore picks the
// default threshold.
func (s *SearchService) Search(ctx context.Context, ownerID, query string, topK int, minScore float32) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, appErr.ErrInvalid
	}
	topK = clampTopK(topK)
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	queryVec, err := s.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.idx.Query(queryVec, topK, ownerID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, ownerID, matches, minScore, "")
}

// Similar finds the owner's notes closest to an already indexed note, using
// its stored vector. No embedding call is made.
func (s *SearchService) Similar(ctx context.Context, ownerID, noteID string, topK int) ([]SearchResult, error) {
	if _, err := s.notes.GetForOwner(ctx, ownerID, noteID); err != nil {
		return nil, err
	}
	vec, ok := s.idx.Vector(noteID)
	if !ok {
		return nil, appErr.ErrNotEmbedded
	}
	topK = clampTopK(topK)
	// the note itself always scores 1.0, fetch one extra and drop it
	matches, err := s.idx.Query(vec, topK+1, ownerID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, ownerID, matches, defaultMinScore, noteID)
}

// Answer runs retrieval-augmented generation over the owner's notes: the
// top matches become the model's context, and only those notes are cited.
func (s *SearchService) Answer(ctx context.Context, ownerID, query string, topK int) (*AnswerResult, error) {
	results, err := s.Search(ctx, ownerID, query, topK, 0)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &AnswerResult{Answer: "", Sources: []SearchResult{}}, nil
	}
	answer, err := s.manager.Generate(ctx, answerPrompt(query, results))
	if err != nil {
		logutil.GetLogger(ctx).Error("answer generation failed", zap.Error(err))
		return nil, err
	}
	return &AnswerResult{Answer: strings.TrimSpace(answer), Sources: results}, nil
}

func (s *SearchService) resolve(ctx context.Context, ownerID string, matches []index.Match, minScore float32, excludeID string) ([]SearchResult, error) {
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		if m.Score < minScore || m.NoteID == excludeID {
			continue
		}
		note, err := s.notes.GetForOwner(ctx, ownerID, m.NoteID)
		if err != nil {
			// the index can briefly outlive a deleted note
			if appErr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		results = append(results, SearchResult{Note: note, Score: m.Score})
	}
	return results, nil
}

func (s *SearchService) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	key := s.cacheKey(query)
	if vec, ok := s.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := s.manager.Embed(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, vec)
	return vec, nil
}

func (s *SearchService) cacheKey(query string) string {
	hash := sha256.Sum256([]byte(s.manager.EmbeddingModelVersion() + ":" + query))
	return hex.EncodeToString(hash[:])
}

func answerPrompt(query string, results []SearchResult) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the voice notes below. ")
	b.WriteString("If the notes do not contain the answer, say so.\n\n")
	for i, r := range results {
		text := r.Note.Summary
		if text == "" {
			text = r.Note.Transcript
		}
		fmt.Fprintf(&b, "Note %d:\n%s\n\n", i+1, text)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

func clampTopK(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}
