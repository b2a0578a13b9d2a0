package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"pdfrag/internal/ai"
	"pdfrag/internal/model"
	"pdfrag/internal/vectorstore"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

type fakeBlobs struct {
	mu      sync.Mutex
	files   map[string][]byte
	next    int
	saveErr error
	deleted []string
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{files: map[string][]byte{}} }

func (b *fakeBlobs) Save(_ context.Context, folder, ext string, r io.Reader) (string, error) {
	if b.saveErr != nil {
		return "", b.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	path := fmt.Sprintf("%s/%d.%s", folder, b.next, ext)
	b.files[path] = data
	return path, nil
}

func (b *fakeBlobs) Open(path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[path]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobs) Delete(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, path)
	b.deleted = append(b.deleted, path)
	return nil
}

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

// fakeExtractor returns text for any stored blob.
type fakeExtractor struct {
	blobs *fakeBlobs
	text  string
	err   error
}

func (e *fakeExtractor) Extract(path string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	rc, err := e.blobs.Open(path)
	if err != nil {
		return "", err
	}
	_ = rc.Close()
	return e.text, nil
}

type fakeEmbedder struct {
	dim   int
	fn    func(ctx context.Context, text string) ai.Embedding
	calls atomic.Int32
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ai.Embedding {
	e.calls.Add(1)
	if e.fn != nil {
		return e.fn(ctx, text)
	}
	vec := make([]float32, e.dim)
	for i := range vec {
		vec[i] = float32(len(text)%7+1) / 10
	}
	return ai.Embedding{Vector: vec}
}

func (e *fakeEmbedder) Dimension() int { return e.dim }

func fallbackEmbedding(dim int) ai.Embedding {
	return ai.Embedding{Vector: ai.FallbackVector(dim, ai.DefaultFallbackValue), Fallback: true, Cause: errors.New("embedding service down")}
}

type fakeIndex struct {
	mu        sync.Mutex
	points    map[string]vectorstore.Point
	upserts   int
	upsertErr func(p vectorstore.Point) error
	results   []vectorstore.SearchResult
	searches  []*vectorstore.Filter
	deletes   []vectorstore.Filter
	deleteErr error
}

func newFakeIndex() *fakeIndex { return &fakeIndex{points: map[string]vectorstore.Point{}} }

func (f *fakeIndex) Upsert(_ context.Context, _ string, p vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		if err := f.upsertErr(p); err != nil {
			return err
		}
	}
	f.points[p.ID] = p
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ string, _ []float32, limit int, filter *vectorstore.Filter) []vectorstore.SearchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, filter)
	out := make([]vectorstore.SearchResult, 0, len(f.results))
	for _, r := range f.results {
		if filter != nil && fmt.Sprint(r.Payload[filter.Key]) != fmt.Sprint(filter.Value) {
			continue
		}
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeIndex) DeleteByFilter(_ context.Context, _ string, filter vectorstore.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, filter)
	return f.deleteErr
}

func (f *fakeIndex) pointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

type fakeSink struct {
	mu     sync.Mutex
	nextID uint
	docs   []model.Document
	chunks []model.Chunk
	err    error
}

func (s *fakeSink) CreateWithChunks(_ context.Context, doc *model.Document, chunks []model.Chunk) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	doc.ID = s.nextID
	doc.ChunkCount = len(chunks)
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		chunks[i].ID = uint(len(s.chunks) + 1)
		s.chunks = append(s.chunks, chunks[i])
	}
	s.docs = append(s.docs, *doc)
	return nil
}

type fakeDocuments struct {
	docs      map[uint]model.Document
	deleted   []uint
	deleteErr error
}

func (f *fakeDocuments) ListByUserID(_ context.Context, userID uint) ([]model.Document, error) {
	var out []model.Document
	for _, d := range f.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocuments) GetByIDAndUserID(_ context.Context, id, userID uint) (*model.Document, error) {
	d, ok := f.docs[id]
	if !ok || d.UserID != userID {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeDocuments) DeleteByIDAndUserID(_ context.Context, id, _ uint) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.docs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeChunks struct {
	chunks  []model.Chunk
	updated []model.Chunk
}

func (f *fakeChunks) ListByDocumentID(_ context.Context, documentID uint) ([]model.Chunk, error) {
	var out []model.Chunk
	for _, c := range f.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunks) ListFallbackByDocumentID(_ context.Context, documentID uint) ([]model.Chunk, error) {
	var out []model.Chunk
	for _, c := range f.chunks {
		if c.DocumentID == documentID && c.EmbeddingFallback {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunks) UpdateEmbedding(_ context.Context, chunk *model.Chunk) error {
	f.updated = append(f.updated, *chunk)
	return nil
}

type fakeGenerator struct {
	answer   string
	err      error
	messages []ai.ChatMessage
}

func (g *fakeGenerator) Complete(_ context.Context, _ ai.ChatConfig, messages []ai.ChatMessage) (string, error) {
	g.messages = messages
	return g.answer, g.err
}

type fakeBroadcaster struct {
	events []AnswerEvent
	err    error
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, _ uint, event AnswerEvent) error {
	b.events = append(b.events, event)
	return b.err
}

type fakeChatLogs struct {
	entries []model.ChatLog
	err     error
}

func (p *fakeChatLogs) Publish(_ context.Context, entry model.ChatLog) error {
	p.entries = append(p.entries, entry)
	return p.err
}

type fakeUsers struct {
	users []*model.User
}

func (f *fakeUsers) Create(_ context.Context, user *model.User) error {
	user.ID = uint(len(f.users) + 1)
	f.users = append(f.users, user)
	return nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uint) (*model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}
