package app

import (
	"context"
	"log"
	"strings"

	"pdfrag/internal/vectorstore"
)

const defaultTopK = 3

// Source is one retrieved chunk as shown to callers.
type Source struct {
	DocumentID uint    `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

type Retrieval struct {
	Snippets []string `json:"snippets"`
	Sources  []Source `json:"sources"`
	Context  string   `json:"context"`
	// Degraded is set when the query itself was embedded with the fallback vector.
	Degraded bool `json:"degraded"`
}

type RetrievalService struct {
	embedder   Embedder
	index      VectorIndex
	collection string
	topK       int
	logger     *log.Logger
}

func NewRetrievalService(embedder Embedder, index VectorIndex, collection string, topK int, logger *log.Logger) *RetrievalService {
	if topK <= 0 {
		topK = defaultTopK
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RetrievalService{
		embedder:   embedder,
		index:      index,
		collection: collection,
		topK:       topK,
		logger:     logger,
	}
}

// Retrieve embeds query, searches the index and joins the ranked texts into a
// paragraph-separated context. A nil userScope searches every document. An
// empty index gives an empty context, not an error.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, limit int, userScope *uint) (*Retrieval, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = s.topK
	}

	emb := s.embedder.Embed(ctx, query)
	if emb.Fallback {
		s.logger.Printf("retrieval with fallback query vector: cause=%v", emb.Cause)
	}

	var filter *vectorstore.Filter
	if userScope != nil {
		filter = vectorstore.UserFilter(*userScope)
	}
	results := s.index.Search(ctx, s.collection, emb.Vector, limit, filter)

	out := &Retrieval{
		Snippets: make([]string, 0, len(results)),
		Sources:  make([]Source, 0, len(results)),
		Degraded: emb.Fallback,
	}
	for _, r := range results {
		if len(out.Snippets) == limit {
			break
		}
		text := strings.TrimSpace(r.Text())
		if text == "" {
			continue
		}
		out.Snippets = append(out.Snippets, text)
		out.Sources = append(out.Sources, Source{DocumentID: r.DocumentID(), Text: text, Score: r.Score})
	}
	out.Context = strings.Join(out.Snippets, "\n\n")
	return out, nil
}
