// Package chat orchestrates a single question/answer turn over a document.
//
// The Assistant ties the stores together: it verifies the document is
// indexed, persists the user message idempotently, retrieves the most
// relevant chunks, streams the model's answer, and persists the result.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/askdoc/askdoc/internal/conversation"
	"github.com/askdoc/askdoc/internal/document"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/log"
	"github.com/askdoc/askdoc/internal/retrieval"
)

var (
	// ErrDocumentNotReady indicates the document has not finished indexing.
	ErrDocumentNotReady = errors.New("document is not ready")

	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// FallbackAnswer is streamed and persisted when the model produces an
// empty response.
const FallbackAnswer = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

// retrievalTimeout bounds the embed+search phase so a slow index cannot
// stall the whole request.
const retrievalTimeout = 5 * time.Second

// titleSeedTimeout bounds the background title generation.
const titleSeedTimeout = 15 * time.Second

// Documents is the document lookup the Assistant needs.
type Documents interface {
	Get(ctx context.Context, id uuid.UUID) (*document.Document, error)
}

// Conversations is the conversation persistence the Assistant needs.
type Conversations interface {
	SeedTitle(ctx context.Context, id uuid.UUID, title string) (bool, error)
	History(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*conversation.Message, error)
	AppendMessages(ctx context.Context, conversationID uuid.UUID, messages []*conversation.Message) (int, error)
}

// Retriever searches a document's chunk index.
type Retriever interface {
	Search(ctx context.Context, docID uuid.UUID, query []float32, topK int) ([]retrieval.Result, error)
}

// Model is the slice of the LLM client the Assistant uses.
type Model interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Stream(ctx context.Context, system string, history []llm.Turn, onChunk func(string) error) (string, error)
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}

// Request is one user question addressed to a conversation.
//
// MessageID is supplied by the client and doubles as the idempotency key:
// retrying a request with the same MessageID never duplicates the message.
type Request struct {
	Conversation *conversation.Conversation
	MessageID    uuid.UUID
	Question     string
}

// Answer is the completed result of one turn.
type Answer struct {
	MessageID uuid.UUID          `json:"messageId"`
	Content   string             `json:"content"`
	Sources   []retrieval.Result `json:"sources"`

	// Replayed is true when the question was already answered and the
	// stored answer was returned instead of generating a new one.
	Replayed bool `json:"replayed"`
}

// Config tunes the Assistant.
type Config struct {
	TopK       int
	MaxHistory int32
}

// Assistant answers questions about a single document using retrieval
// augmented generation. Safe for concurrent use.
type Assistant struct {
	documents     Documents
	conversations Conversations
	retriever     Retriever
	model         Model
	topK          int
	maxHistory    int32
	logger        log.Logger

	titleWG sync.WaitGroup
}

// New creates an Assistant.
func New(docs Documents, convs Conversations, retriever Retriever, model Model, cfg Config, logger log.Logger) *Assistant {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Assistant{
		documents:     docs,
		conversations: convs,
		retriever:     retriever,
		model:         model,
		topK:          topK,
		maxHistory:    maxHistory,
		logger:        logger.With("component", "assistant"),
	}
}

// Close waits for background title seeding to finish.
func (a *Assistant) Close() {
	a.titleWG.Wait()
}

// Ask runs one question/answer turn and streams the answer through onChunk.
//
// The turn is idempotent on req.MessageID: if the question was already
// persisted and answered, the stored answer is replayed through onChunk in a
// single chunk and no model call is made. If the question was persisted but
// never answered (a crash mid-stream), generation resumes without inserting
// the question again. A duplicate whose first request is still generating is
// rejected with conversation.ErrDuplicateMessage.
func (a *Assistant) Ask(ctx context.Context, req Request, onChunk func(string) error) (*Answer, error) {
	question := req.Question
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	conv := req.Conversation

	ctx, span := otel.Tracer("askdoc/chat").Start(ctx, "Assistant.Ask")
	defer span.End()

	doc, err := a.documents.Get(ctx, conv.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	if doc.Status != document.StatusReady {
		return nil, fmt.Errorf("%w: status is %s", ErrDocumentNotReady, doc.Status)
	}

	// History before this turn becomes the model's context. Loading it
	// before the insert keeps the new question out of the history slice.
	history, err := a.conversations.History(ctx, conv.ID, a.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	userMsg := &conversation.Message{
		ID:      req.MessageID,
		Role:    conversation.RoleUser,
		Content: question,
	}
	inserted, err := a.conversations.AppendMessages(ctx, conv.ID, []*conversation.Message{userMsg})
	if err != nil {
		return nil, fmt.Errorf("persisting question: %w", err)
	}

	if inserted == 0 {
		// Retried request. The pre-insert snapshot cannot show what a
		// concurrent request with the same ID has written since, so
		// re-read before deciding how to handle the duplicate.
		history, err = a.conversations.History(ctx, conv.ID, a.maxHistory)
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}
		if answer := findStoredAnswer(history, req.MessageID); answer != nil {
			a.logger.Debug("replaying stored answer",
				"conversation_id", conv.ID,
				"message_id", req.MessageID,
			)
			if err := onChunk(answer.Content); err != nil {
				return nil, fmt.Errorf("chunk callback: %w", err)
			}
			return &Answer{MessageID: answer.ID, Content: answer.Content, Replayed: true}, nil
		}
		if !containsMessage(history, req.MessageID) {
			// Persisted but not yet visible in the history window:
			// another request with this ID is still generating.
			return nil, fmt.Errorf("%w: %s", conversation.ErrDuplicateMessage, req.MessageID)
		}
		// Question persisted but never answered. Drop it from history so
		// it is not sent to the model twice.
		history = dropMessage(history, req.MessageID)
	}

	if conv.MessageCount == 0 && inserted > 0 {
		a.seedTitle(conv.ID, question)
	}

	sources := a.retrieve(ctx, doc.ID, question)

	turns := historyToTurns(history)
	turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: question})

	content, err := a.model.Stream(ctx, buildSystemPrompt(doc.Filename, sources), turns, onChunk)
	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		a.logger.Warn("model returned empty response, using fallback",
			"conversation_id", conv.ID,
		)
		content = FallbackAnswer
		if err := onChunk(content); err != nil {
			return nil, fmt.Errorf("chunk callback: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	assistantMsg := &conversation.Message{
		ID:      uuid.New(),
		Role:    conversation.RoleAssistant,
		Content: content,
	}
	if _, err := a.conversations.AppendMessages(ctx, conv.ID, []*conversation.Message{assistantMsg}); err != nil {
		// The user already has the streamed answer. Surface the loss in
		// the logs rather than failing the request.
		a.logger.Error("failed to persist answer",
			"conversation_id", conv.ID,
			"error", err,
		)
	}

	return &Answer{MessageID: assistantMsg.ID, Content: content, Sources: sources}, nil
}

// retrieve embeds the question and searches the document's index. Retrieval
// failures degrade to an unassisted answer instead of failing the turn.
func (a *Assistant) retrieve(ctx context.Context, docID uuid.UUID, question string) []retrieval.Result {
	ctx, cancel := context.WithTimeout(ctx, retrievalTimeout)
	defer cancel()

	vector, err := a.model.EmbedQuery(ctx, question)
	if err != nil {
		a.logger.Warn("query embedding failed, answering without context",
			"document_id", docID,
			"error", err,
		)
		return nil
	}

	results, err := a.retriever.Search(ctx, docID, vector, a.topK)
	if err != nil {
		a.logger.Warn("chunk search failed, answering without context",
			"document_id", docID,
			"error", err,
		)
		return nil
	}
	return results
}

// seedTitle sets the conversation title from the first question in the
// background. Best effort: failures only log.
func (a *Assistant) seedTitle(conversationID uuid.UUID, question string) {
	a.titleWG.Add(1)
	go func() {
		defer a.titleWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), titleSeedTimeout)
		defer cancel()

		title, err := a.model.GenerateTitle(ctx, question)
		if err != nil {
			a.logger.Debug("title generation failed, using fallback", "error", err)
			title = llm.FallbackTitle(question)
		}
		if title == "" {
			return
		}

		if _, err := a.conversations.SeedTitle(ctx, conversationID, title); err != nil {
			a.logger.Warn("failed to seed conversation title",
				"conversation_id", conversationID,
				"error", err,
			)
		}
	}()
}

// findStoredAnswer locates the assistant message that directly follows the
// user message with the given ID, if both are present in history.
func findStoredAnswer(history []*conversation.Message, userMessageID uuid.UUID) *conversation.Message {
	for i, msg := range history {
		if msg.ID != userMessageID {
			continue
		}
		if i+1 < len(history) && history[i+1].Role == conversation.RoleAssistant {
			return history[i+1]
		}
		return nil
	}
	return nil
}

func containsMessage(history []*conversation.Message, id uuid.UUID) bool {
	for _, msg := range history {
		if msg.ID == id {
			return true
		}
	}
	return false
}

func dropMessage(history []*conversation.Message, id uuid.UUID) []*conversation.Message {
	out := history[:0]
	for _, msg := range history {
		if msg.ID != id {
			out = append(out, msg)
		}
	}
	return out
}

func historyToTurns(history []*conversation.Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history))
	for _, msg := range history {
		role := llm.RoleUser
		if msg.Role == conversation.RoleAssistant {
			role = llm.RoleModel
		}
		turns = append(turns, llm.Turn{Role: role, Content: msg.Content})
	}
	return turns
}
