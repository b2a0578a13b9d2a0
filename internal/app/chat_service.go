package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"pdfrag/internal/ai"
	"pdfrag/internal/model"
)

const (
	MaxQueryLength = 1000
	NoAnswer       = "No answer available."

	systemPrompt = "You are an assistant. Use the provided context to answer the user."
)

var ErrQueryTooLong = errors.New("query is too long")

type Generator interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

// AnswerBroadcaster pushes an answer to the asking user's private channel.
type AnswerBroadcaster interface {
	Broadcast(ctx context.Context, userID uint, event AnswerEvent) error
}

type ChatLogPublisher interface {
	Publish(ctx context.Context, entry model.ChatLog) error
}

type AnswerEvent struct {
	UserID    uint      `json:"user_id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Sources   []Source  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

type AskInput struct {
	UserID uint
	Query  string
	// AllDocuments searches outside the caller's own documents.
	AllDocuments bool
	TopK         int
}

type AskResult struct {
	Answer   string   `json:"answer"`
	Context  string   `json:"context"`
	Sources  []Source `json:"sources"`
	Degraded bool     `json:"degraded"`
}

type ChatService struct {
	retriever   *RetrievalService
	generator   Generator
	llm         ai.ChatConfig
	broadcaster AnswerBroadcaster
	chatLogs    ChatLogPublisher
	logger      *log.Logger
}

func NewChatService(
	retriever *RetrievalService,
	generator Generator,
	llm ai.ChatConfig,
	broadcaster AnswerBroadcaster,
	chatLogs ChatLogPublisher,
	logger *log.Logger,
) *ChatService {
	if logger == nil {
		logger = log.Default()
	}
	return &ChatService{
		retriever:   retriever,
		generator:   generator,
		llm:         llm,
		broadcaster: broadcaster,
		chatLogs:    chatLogs,
		logger:      logger,
	}
}

// Ask answers query from retrieved context. Generation problems never fail the
// call; they produce NoAnswer. Broadcast and chat log delivery are best effort.
func (s *ChatService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, ErrQueryTooLong
	}

	var scope *uint
	if !input.AllDocuments {
		userID := input.UserID
		scope = &userID
	}
	retrieval, err := s.retriever.Retrieve(ctx, query, input.TopK, scope)
	if err != nil {
		return nil, err
	}

	answer := s.generate(ctx, query, retrieval.Context)
	result := &AskResult{
		Answer:   answer,
		Context:  retrieval.Context,
		Sources:  retrieval.Sources,
		Degraded: retrieval.Degraded,
	}

	now := time.Now()
	if s.broadcaster != nil {
		event := AnswerEvent{UserID: input.UserID, Query: query, Answer: answer, Sources: retrieval.Sources, CreatedAt: now}
		if err := s.broadcaster.Broadcast(ctx, input.UserID, event); err != nil {
			s.logger.Printf("answer broadcast failed: user=%d cause=%v", input.UserID, err)
		}
	}
	if s.chatLogs != nil {
		entry := model.ChatLog{UserID: input.UserID, Query: query, Answer: answer, Context: retrieval.Context, CreatedAt: now}
		if err := s.chatLogs.Publish(ctx, entry); err != nil {
			s.logger.Printf("chat log enqueue failed: user=%d cause=%v", input.UserID, err)
		}
	}
	return result, nil
}

func (s *ChatService) generate(ctx context.Context, query, contextText string) string {
	if s.generator == nil || s.llm.BaseURL == "" || s.llm.Model == "" {
		s.logger.Printf("generation skipped: llm is not configured")
		return NoAnswer
	}
	messages := BuildPrompt(query, contextText)
	answer, err := s.generator.Complete(ctx, s.llm, messages)
	if err != nil {
		s.logger.Printf("generation failed: cause=%v", err)
		return NoAnswer
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return NoAnswer
	}
	return answer
}

// BuildPrompt returns the system instruction and the context-augmented question.
func BuildPrompt(query, contextText string) []ai.ChatMessage {
	return []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Answer the user question using the context below:\n\nContext:\n" + contextText + "\n\nQuestion:\n" + query},
	}
}
