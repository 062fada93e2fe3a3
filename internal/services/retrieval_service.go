package services

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/providers/llm"
	"github.com/carma-ai/carma/internal/providers/vectorstore"
	"github.com/carma-ai/carma/internal/repositories"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RetrievalConfig tunes one retrieval pass.
type RetrievalConfig struct {
	// K is the number of chunks requested per query per knowledge base.
	K int
	// ScoreThreshold drops scored chunks below it; unscored chunks are
	// always kept. Nil disables filtering.
	ScoreThreshold *float64
	// IncludeHistoryQueries adds recent human turns as secondary queries.
	IncludeHistoryQueries bool
	// MaxHistoryQueries caps how many history turns become queries.
	MaxHistoryQueries int
	// MaxConcurrency bounds the knowledge-base fan-out.
	MaxConcurrency int
}

// DocumentReference points at the source of a retrieved chunk, deduplicated
// by document id.
type DocumentReference struct {
	DocumentID     string   `json:"document_id"`
	FileName       string   `json:"file_name"`
	KnowledgeID    string   `json:"knowledge_id"`
	SourceURL      *string  `json:"source_url,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// RetrievalContext is the grounding result of one turn. It lives for that
// turn only and is never cached across turns.
type RetrievalContext struct {
	ContextText          string
	Documents            []vectorstore.RetrievedChunk
	References           []DocumentReference
	QueryCount           int
	KnowledgeIDsSearched []string
}

// RetrievalService builds bounded grounding context by fanning search queries
// out over one or all knowledge bases.
type RetrievalService struct {
	searcher vectorstore.Searcher
	records  repositories.DocumentRecordRepository
	cfg      RetrievalConfig
	maxLen   int
	log      *logrus.Logger
}

func NewRetrievalService(searcher vectorstore.Searcher, records repositories.DocumentRecordRepository, cfg RetrievalConfig, maxContextLength int, log *logrus.Logger) *RetrievalService {
	if cfg.K <= 0 {
		cfg.K = 4
	}
	if cfg.MaxHistoryQueries < 0 {
		cfg.MaxHistoryQueries = 0
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &RetrievalService{searcher: searcher, records: records, cfg: cfg, maxLen: maxContextLength, log: log}
}

// Retrieve runs the full pipeline: query construction, fan-out, score filter,
// content dedup, reference extraction, context assembly. Failures degrade to
// an empty context; they never fail the surrounding turn.
func (s *RetrievalService) Retrieve(ctx context.Context, message, knowledgeID string, history []llm.Turn) *RetrievalContext {
	queries := s.buildQueries(message, history)

	var docs []vectorstore.RetrievedChunk
	var searched []string
	if knowledgeID != "" {
		docs = s.searchOne(ctx, knowledgeID, queries)
		if docs != nil {
			searched = []string{knowledgeID}
		}
	} else {
		docs, searched = s.searchAll(ctx, queries)
	}

	if s.cfg.ScoreThreshold != nil {
		docs = filterByScore(docs, *s.cfg.ScoreThreshold)
	}
	docs = dedupeByContent(docs)
	refs := extractReferences(docs)

	out := &RetrievalContext{
		ContextText:          FormatContext(docs, s.maxLen),
		Documents:            docs,
		References:           refs,
		QueryCount:           len(queries),
		KnowledgeIDsSearched: searched,
	}
	if out.KnowledgeIDsSearched == nil {
		out.KnowledgeIDsSearched = []string{}
	}

	s.log.WithFields(logrus.Fields{
		"documents":      len(docs),
		"references":     len(refs),
		"context_length": len(out.ContextText),
		"queries":        len(queries),
		"kbs_searched":   len(out.KnowledgeIDsSearched),
	}).Info("retrieval completed")
	return out
}

// buildQueries puts the current message first, then up to MaxHistoryQueries
// distinct prior human turns taken newest-first. A history turn equal to the
// current message is skipped.
func (s *RetrievalService) buildQueries(message string, history []llm.Turn) []string {
	queries := []string{message}
	if !s.cfg.IncludeHistoryQueries || s.cfg.MaxHistoryQueries == 0 {
		return queries
	}

	seen := map[string]bool{message: true}
	for i := len(history) - 1; i >= 0 && len(queries) <= s.cfg.MaxHistoryQueries; i-- {
		t := history[i]
		if t.Role != models.RoleHuman || seen[t.Content] {
			continue
		}
		seen[t.Content] = true
		queries = append(queries, t.Content)
	}
	return queries
}

// searchOne runs every query against a single knowledge base. A nil return
// means the knowledge base could not be searched at all.
func (s *RetrievalService) searchOne(ctx context.Context, knowledgeID string, queries []string) []vectorstore.RetrievedChunk {
	docs := make([]vectorstore.RetrievedChunk, 0, len(queries)*s.cfg.K)
	failed := 0
	for _, q := range queries {
		hits, err := s.searcher.Search(ctx, knowledgeID, q, s.cfg.K)
		if err != nil {
			failed++
			s.log.WithError(err).WithField("knowledge_id", knowledgeID).
				Warn("knowledge base search failed, continuing without it")
			continue
		}
		docs = append(docs, hits...)
	}
	if failed == len(queries) {
		return nil
	}
	return docs
}

// searchAll enumerates every knowledge base and fans the query set out over
// them concurrently. A failing knowledge base is skipped and excluded from
// the searched list; it never aborts the whole retrieval.
func (s *RetrievalService) searchAll(ctx context.Context, queries []string) ([]vectorstore.RetrievedChunk, []string) {
	ids, err := s.records.AllKnowledgeIDs(ctx)
	if err != nil {
		s.log.WithError(err).Warn("knowledge base enumeration failed, skipping retrieval")
		return nil, nil
	}
	if len(ids) == 0 {
		s.log.Warn("no knowledge bases found for retrieval")
		return nil, nil
	}

	perKB := make([][]vectorstore.RetrievedChunk, len(ids))
	ok := make([]bool, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			docs := s.searchOne(gctx, id, queries)
			mu.Lock()
			defer mu.Unlock()
			if docs != nil {
				perKB[i] = docs
				ok[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	// Merge in enumeration order so the result is deterministic regardless
	// of completion order.
	var docs []vectorstore.RetrievedChunk
	var searched []string
	for i, id := range ids {
		if !ok[i] {
			continue
		}
		docs = append(docs, perKB[i]...)
		searched = append(searched, id)
	}
	return docs, searched
}

func filterByScore(docs []vectorstore.RetrievedChunk, threshold float64) []vectorstore.RetrievedChunk {
	out := docs[:0]
	for _, d := range docs {
		if d.Score == nil || *d.Score >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// dedupeByContent collapses bytewise-identical chunk text; the first
// occurrence wins. This also coalesces identical chunks surfaced by different
// queries or knowledge bases.
func dedupeByContent(docs []vectorstore.RetrievedChunk) []vectorstore.RetrievedChunk {
	seen := make(map[uint64][]string)
	out := docs[:0]
outer:
	for _, d := range docs {
		h := fnv.New64a()
		_, _ = h.Write([]byte(d.Content))
		sum := h.Sum64()
		for _, prev := range seen[sum] {
			if prev == d.Content {
				continue outer
			}
		}
		seen[sum] = append(seen[sum], d.Content)
		out = append(out, d)
	}
	return out
}

// extractReferences promotes each document once per unique document id,
// regardless of how many distinct chunks of it matched.
func extractReferences(docs []vectorstore.RetrievedChunk) []DocumentReference {
	var refs []DocumentReference
	seen := make(map[string]bool)
	for _, d := range docs {
		if d.DocumentID == "" || seen[d.DocumentID] {
			continue
		}
		seen[d.DocumentID] = true
		refs = append(refs, DocumentReference{
			DocumentID:     d.DocumentID,
			FileName:       d.FileName,
			KnowledgeID:    d.KnowledgeID,
			SourceURL:      d.SourceURL,
			RelevanceScore: d.Score,
		})
	}
	return refs
}
