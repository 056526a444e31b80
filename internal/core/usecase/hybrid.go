package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
)

// HybridConfig holds the fusion weights. KeywordOnlyScore is the fixed
// combined score for hits the vector side never saw.
type HybridConfig struct {
	VectorWeight     float64
	KeywordWeight    float64
	KeywordOnlyScore float64
	VectorTopN       int
	KeywordTopN      int
}

func (c HybridConfig) withDefaults() HybridConfig {
	if c.VectorWeight <= 0 {
		c.VectorWeight = 0.7
	}
	if c.KeywordWeight <= 0 {
		c.KeywordWeight = 0.3
	}
	if c.KeywordOnlyScore <= 0 {
		c.KeywordOnlyScore = 0.5
	}
	if c.VectorTopN <= 0 {
		c.VectorTopN = 20
	}
	if c.KeywordTopN <= 0 {
		c.KeywordTopN = 20
	}
	return c
}

// HybridRetriever fuses vector similarity with keyword-set intersection.
// Both legs run against the same dual store; hits are merged by chunk id.
type HybridRetriever struct {
	embedder        ports.Embedder
	store           ports.ChunkStore
	extractKeywords func(string) []string
	cfg             HybridConfig
}

func NewHybridRetriever(
	embedder ports.Embedder,
	store ports.ChunkStore,
	extractKeywords func(string) []string,
	cfg HybridConfig,
) *HybridRetriever {
	return &HybridRetriever{
		embedder:        embedder,
		store:           store,
		extractKeywords: extractKeywords,
		cfg:             cfg.withDefaults(),
	}
}

func (r *HybridRetriever) Retrieve(
	ctx context.Context,
	question string,
	filter domain.SearchFilter,
	limit int,
) ([]domain.SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vectorHits, err := r.store.SearchByVector(ctx, queryVector, r.cfg.VectorTopN, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	keywordFilter := filter
	keywordFilter.Keywords = r.extractKeywords(question)
	var keywordHits []domain.SearchHit
	if len(keywordFilter.Keywords) > 0 {
		keywordHits, err = r.store.SearchByFilter(ctx, keywordFilter, r.cfg.KeywordTopN)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
	}

	merged := r.merge(vectorHits, keywordHits)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// merge combines the two result lists by chunk id. A hit seen by both legs
// gets the weighted sum; a keyword-only hit the fixed constant; a
// vector-only hit keeps its normalized cosine score unscaled.
func (r *HybridRetriever) merge(vectorHits, keywordHits []domain.SearchHit) []domain.SearchHit {
	acc := make(map[string]domain.SearchHit, len(vectorHits)+len(keywordHits))

	for _, hit := range vectorHits {
		hit.HasVector = true
		acc[hit.ChunkID] = hit
	}
	for _, hit := range keywordHits {
		existing, seen := acc[hit.ChunkID]
		if seen {
			existing.HasKeyword = true
			existing.KeywordScore = hit.KeywordScore
			acc[hit.ChunkID] = existing
			continue
		}
		hit.HasKeyword = true
		acc[hit.ChunkID] = hit
	}

	out := make([]domain.SearchHit, 0, len(acc))
	for _, hit := range acc {
		hit.CombinedScore = r.combine(hit)
		out = append(out, hit)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CombinedScore != out[j].CombinedScore {
			return out[i].CombinedScore > out[j].CombinedScore
		}
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.After(out[j].EffectiveDate)
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// combine blends the two signals. The keyword side is anchored at the
// fixed KeywordOnlyScore constant, scaled by the overlap share so partial
// matches degrade; a full keyword-only match carries the constant unscaled.
func (r *HybridRetriever) combine(hit domain.SearchHit) float64 {
	keyword := r.cfg.KeywordOnlyScore * hit.KeywordScore
	switch {
	case hit.HasVector && hit.HasKeyword:
		return r.cfg.VectorWeight*hit.VectorScore + r.cfg.KeywordWeight*keyword
	case hit.HasVector:
		return hit.VectorScore
	case hit.HasKeyword:
		return keyword
	default:
		return 0
	}
}
