package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/carma-ai/carma/internal/providers/llm"
	"github.com/carma-ai/carma/internal/providers/vectorstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	// hits per knowledge id; a knowledge id in failing errors every query
	hits    map[string][]vectorstore.RetrievedChunk
	failing map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeSearcher) Search(ctx context.Context, knowledgeID, query string, k int) ([]vectorstore.RetrievedChunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, knowledgeID+"/"+query)
	f.mu.Unlock()
	if f.failing[knowledgeID] {
		return nil, errors.New("index unavailable")
	}
	return f.hits[knowledgeID], nil
}

type fakeRecords struct {
	ids []string
	err error
}

func (f *fakeRecords) AllKnowledgeIDs(ctx context.Context) ([]string, error) {
	return f.ids, f.err
}

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestRetriever(searcher vectorstore.Searcher, records *fakeRecords, cfg RetrievalConfig) *RetrievalService {
	return NewRetrievalService(searcher, records, cfg, 8000, quietLog())
}

func scored(content, docID, kb string, score float64) vectorstore.RetrievedChunk {
	return vectorstore.RetrievedChunk{
		DocumentID:  docID,
		FileName:    docID + ".pdf",
		KnowledgeID: kb,
		Content:     content,
		Score:       &score,
	}
}

func TestRetrieve_SingleKnowledgeBase(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.RetrievedChunk{
		"kb-1": {scored("alpha", "d1", "kb-1", 0.9)},
	}}
	svc := newTestRetriever(searcher, &fakeRecords{}, RetrievalConfig{K: 4})

	out := svc.Retrieve(context.Background(), "question", "kb-1", nil)
	require.NotNil(t, out)
	assert.Equal(t, []string{"kb-1"}, out.KnowledgeIDsSearched)
	assert.Len(t, out.Documents, 1)
	assert.Equal(t, 1, out.QueryCount)
	assert.Contains(t, out.ContextText, "alpha")
}

func TestRetrieve_SearchAllMergesInEnumerationOrder(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.RetrievedChunk{
		"kb-a": {scored("from-a", "da", "kb-a", 0.9)},
		"kb-b": {scored("from-b", "db", "kb-b", 0.9)},
		"kb-c": {scored("from-c", "dc", "kb-c", 0.9)},
	}}
	records := &fakeRecords{ids: []string{"kb-a", "kb-b", "kb-c"}}
	svc := newTestRetriever(searcher, records, RetrievalConfig{K: 4, MaxConcurrency: 2})

	out := svc.Retrieve(context.Background(), "question", "", nil)
	require.Len(t, out.Documents, 3)
	assert.Equal(t, "from-a", out.Documents[0].Content)
	assert.Equal(t, "from-b", out.Documents[1].Content)
	assert.Equal(t, "from-c", out.Documents[2].Content)
	assert.Equal(t, []string{"kb-a", "kb-b", "kb-c"}, out.KnowledgeIDsSearched)
}

func TestRetrieve_FailingKnowledgeBaseIsSkipped(t *testing.T) {
	searcher := &fakeSearcher{
		hits: map[string][]vectorstore.RetrievedChunk{
			"kb-a": {scored("from-a", "da", "kb-a", 0.9)},
			"kb-c": {scored("from-c", "dc", "kb-c", 0.9)},
		},
		failing: map[string]bool{"kb-b": true},
	}
	records := &fakeRecords{ids: []string{"kb-a", "kb-b", "kb-c"}}
	svc := newTestRetriever(searcher, records, RetrievalConfig{K: 4})

	out := svc.Retrieve(context.Background(), "question", "", nil)
	assert.Equal(t, []string{"kb-a", "kb-c"}, out.KnowledgeIDsSearched)
	assert.Len(t, out.Documents, 2)
}

func TestRetrieve_EnumerationFailureDegradesToEmpty(t *testing.T) {
	searcher := &fakeSearcher{}
	records := &fakeRecords{err: errors.New("db down")}
	svc := newTestRetriever(searcher, records, RetrievalConfig{K: 4})

	out := svc.Retrieve(context.Background(), "question", "", nil)
	require.NotNil(t, out)
	assert.Empty(t, out.ContextText)
	assert.Empty(t, out.Documents)
	assert.NotNil(t, out.KnowledgeIDsSearched)
	assert.Empty(t, out.KnowledgeIDsSearched)
}

func TestRetrieve_TargetedKnowledgeBaseUnavailable(t *testing.T) {
	searcher := &fakeSearcher{failing: map[string]bool{"kb-1": true}}
	svc := newTestRetriever(searcher, &fakeRecords{}, RetrievalConfig{K: 4})

	out := svc.Retrieve(context.Background(), "question", "kb-1", nil)
	assert.Empty(t, out.Documents)
	assert.Empty(t, out.KnowledgeIDsSearched)
}

func TestRetrieve_ScoreThreshold(t *testing.T) {
	threshold := 0.5
	unscored := vectorstore.RetrievedChunk{DocumentID: "d3", Content: "unscored", KnowledgeID: "kb-1"}
	searcher := &fakeSearcher{hits: map[string][]vectorstore.RetrievedChunk{
		"kb-1": {
			scored("good", "d1", "kb-1", 0.8),
			scored("bad", "d2", "kb-1", 0.2),
			unscored,
		},
	}}
	svc := newTestRetriever(searcher, &fakeRecords{}, RetrievalConfig{K: 4, ScoreThreshold: &threshold})

	out := svc.Retrieve(context.Background(), "question", "kb-1", nil)
	require.Len(t, out.Documents, 2)
	assert.Equal(t, "good", out.Documents[0].Content)
	// unscored chunks survive filtering
	assert.Equal(t, "unscored", out.Documents[1].Content)
}

func TestRetrieve_DedupeByContentFirstWins(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.RetrievedChunk{
		"kb-1": {
			scored("same text", "d1", "kb-1", 0.9),
			scored("same text", "d2", "kb-1", 0.8),
			scored("other", "d3", "kb-1", 0.7),
		},
	}}
	svc := newTestRetriever(searcher, &fakeRecords{}, RetrievalConfig{K: 4})

	out := svc.Retrieve(context.Background(), "question", "kb-1", nil)
	require.Len(t, out.Documents, 2)
	assert.Equal(t, "d1", out.Documents[0].DocumentID)
	assert.Equal(t, "d3", out.Documents[1].DocumentID)
}

func TestRetrieve_DedupeIsIdempotent(t *testing.T) {
	hits := []vectorstore.RetrievedChunk{
		scored("a", "d1", "kb-1", 0.9),
		scored("a", "d2", "kb-1", 0.8),
		scored("b", "d3", "kb-1", 0.7),
	}
	once := dedupeByContent(append([]vectorstore.RetrievedChunk{}, hits...))
	twice := dedupeByContent(append([]vectorstore.RetrievedChunk{}, once...))
	assert.Equal(t, once, twice)
}

func TestRetrieve_ReferencesDedupedByDocumentID(t *testing.T) {
	searcher := &fakeSearcher{hits: map[string][]vectorstore.RetrievedChunk{
		"kb-1": {
			scored("chunk one", "d1", "kb-1", 0.9),
			scored("chunk two", "d1", "kb-1", 0.8),
			scored("chunk three", "d2", "kb-1", 0.7),
		},
	}}
	svc := newTestRetriever(searcher, &fakeRecords{}, RetrievalConfig{K: 4})

	out := svc.Retrieve(context.Background(), "question", "kb-1", nil)
	require.Len(t, out.References, 2)
	assert.Equal(t, "d1", out.References[0].DocumentID)
	assert.Equal(t, "d2", out.References[1].DocumentID)
}

func TestBuildQueries_HistoryNewestFirstDistinctCapped(t *testing.T) {
	svc := newTestRetriever(&fakeSearcher{}, &fakeRecords{}, RetrievalConfig{
		K: 4, IncludeHistoryQueries: true, MaxHistoryQueries: 2,
	})

	history := []llm.Turn{
		{Role: "human", Content: "oldest question"},
		{Role: "ai", Content: "an answer"},
		{Role: "human", Content: "middle question"},
		{Role: "human", Content: "current question"}, // duplicate of the message
		{Role: "human", Content: "newest question"},
	}
	queries := svc.buildQueries("current question", history)
	assert.Equal(t, []string{"current question", "newest question", "middle question"}, queries)
}

func TestBuildQueries_HistoryDisabled(t *testing.T) {
	svc := newTestRetriever(&fakeSearcher{}, &fakeRecords{}, RetrievalConfig{K: 4})

	queries := svc.buildQueries("q", []llm.Turn{{Role: "human", Content: "prior"}})
	assert.Equal(t, []string{"q"}, queries)
}
