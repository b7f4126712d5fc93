package core

import (
	"math"
	"strings"
)

// SemanticIndexer is the interface a semantic-search backend (an embedding
// model plus a vector store) must satisfy to be wired into Discovery. It is
// intentionally narrow: the embedding model itself is out of scope for this
// module.
type SemanticIndexer interface {
	// Index stores card under did for later similarity search. Errors are
	// logged by the caller and never fail registration.
	Index(did DID, card *Card) error
}

// HybridSearcher ranks cards for a free-text query using whatever
// similarity signal a wired semantic backend can produce, combined with a
// keyword-match signal, per the weighted formula in
// original_source/node/src/search/hybrid.rs.
type HybridSearcher interface {
	Search(query string, candidates map[DID]*Card, minScore float64, maxResults int) []DID
}

// HybridConfig tunes the keyword/vector blend.
type HybridConfig struct {
	VectorWeight  float64 // weight given to normalized cosine similarity
	KeywordWeight float64 // weight given to normalized keyword match count
}

// DefaultHybridConfig matches the reference weighting: vector similarity
// dominates when available, keyword matching otherwise fills the gap.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{VectorWeight: 0.7, KeywordWeight: 0.3}
}

// VectorSource supplies a query embedding and per-card embeddings for
// cosine similarity; KeywordHybridSearch works without one (vector term
// drops to zero), giving a keyword-only default implementation.
type VectorSource interface {
	Embed(text string) ([]float64, error)
	EmbeddingFor(did DID) ([]float64, bool)
}

// KeywordHybridSearch is the default HybridSearcher: it blends an optional
// VectorSource's cosine similarity with a whole-query-substring keyword
// match signal (1 if the query appears in any single field, 0 otherwise),
// floored and capped per spec.
type KeywordHybridSearch struct {
	cfg    HybridConfig
	vector VectorSource // nil means keyword-only
}

// NewKeywordHybridSearch builds a searcher. vector may be nil.
func NewKeywordHybridSearch(cfg HybridConfig, vector VectorSource) *KeywordHybridSearch {
	return &KeywordHybridSearch{cfg: cfg, vector: vector}
}

type scoredDID struct {
	did   DID
	score float64
}

// Search ranks candidates by cfg.VectorWeight*cosine + cfg.KeywordWeight*
// keywordMatchRatio, keeping only scores ≥ minScore and returning at most
// maxResults, highest score first.
func (s *KeywordHybridSearch) Search(query string, candidates map[DID]*Card, minScore float64, maxResults int) []DID {
	queryLower := strings.ToLower(query)

	var queryVec []float64
	if s.vector != nil {
		if v, err := s.vector.Embed(query); err == nil {
			queryVec = v
		}
	}

	scored := make([]scoredDID, 0, len(candidates))
	for did, card := range candidates {
		keywordScore := keywordMatchRatio(queryLower, card)

		var vectorScore float64
		if queryVec != nil {
			if cardVec, ok := s.vector.EmbeddingFor(did); ok {
				vectorScore = normalizedCosine(queryVec, cardVec)
			}
		}

		total := s.cfg.VectorWeight*vectorScore + s.cfg.KeywordWeight*keywordScore
		if total >= minScore {
			scored = append(scored, scoredDID{did: did, score: total})
		}
	}

	sortScoredDesc(scored)
	if maxResults > 0 && len(scored) > maxResults {
		scored = scored[:maxResults]
	}

	out := make([]DID, len(scored))
	for i, s := range scored {
		out[i] = s.did
	}
	return out
}

// cardMatches reports whether the whole (already-lowercased) query string
// appears as a substring of the card's name, description, or any single
// capability's name/description - checked field by field, never tokenized
// and never concatenated across fields. Grounded on
// original_source/node/src/discovery.rs's card_matches.
func cardMatches(queryLower string, card *Card) bool {
	if strings.Contains(strings.ToLower(card.Name), queryLower) {
		return true
	}
	if strings.Contains(strings.ToLower(card.Description), queryLower) {
		return true
	}
	for _, cap := range card.Capabilities {
		if strings.Contains(strings.ToLower(cap.Name), queryLower) {
			return true
		}
		if strings.Contains(strings.ToLower(cap.Description), queryLower) {
			return true
		}
	}
	return false
}

// keywordMatchRatio reports 1 if the query matches card per cardMatches, 0
// otherwise. An empty query is, like any substring search, contained in
// every field, so it matches every card - matching Rust's str::contains("")
// semantics in the reference implementation.
func keywordMatchRatio(queryLower string, card *Card) float64 {
	if cardMatches(queryLower, card) {
		return 1
	}
	return 0
}

// normalizedCosine returns cosine similarity remapped from [-1,1] to [0,1];
// mismatched or zero-length vectors score 0.
func normalizedCosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return clamp01((cos + 1) / 2)
}

func sortScoredDesc(s []scoredDID) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].score > s[j-1].score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
