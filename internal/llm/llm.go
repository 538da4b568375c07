// Package llm wraps the Gemini API for generation and embeddings.
//
// All outbound model calls go through one Client that layers three
// protections: a proactive rate limiter, exponential-backoff retry for
// transient failures, and a circuit breaker that sheds load when the
// provider is persistently failing. Callers never talk to the genai SDK
// directly.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/askdoc/askdoc/internal/log"
)

var (
	// ErrEmptyResponse indicates the model returned no usable text.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrDimensionMismatch indicates an embedding with an unexpected size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// VectorDimension is the embedding size stored in pgvector.
// gemini-embedding-001 truncates to 768 via OutputDimensionality.
const VectorDimension int32 = 768

// Embedding task types, per the Gemini API.
const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// titleTimeout bounds the best-effort title generation call.
const titleTimeout = 5 * time.Second

// maxTitleLength caps generated conversation titles.
const maxTitleLength = 60

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior exchange in a conversation, oldest first.
type Turn struct {
	Role    Role
	Content string
}

// Config configures the Client.
type Config struct {
	APIKey        string
	Model         string // generation model, e.g. "gemini-2.5-flash"
	EmbedderModel string // e.g. "gemini-embedding-001"
	Temperature   float32
	MaxTokens     int

	// RequestsPerMinute throttles outbound calls. Zero disables throttling.
	RequestsPerMinute int

	Retry   RetryConfig
	Breaker CircuitBreakerConfig
}

// Client is the single gateway to the Gemini API.
// Safe for concurrent use.
type Client struct {
	genai         *genai.Client
	model         string
	embedderModel string
	temperature   float32
	maxTokens     int32

	limiter *rate.Limiter
	breaker *CircuitBreaker
	retry   RetryConfig
	logger  log.Logger
}

// New creates a Client. The API key is required.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.EmbedderModel == "" {
		cfg.EmbedderModel = "gemini-embedding-001"
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &Client{
		genai:         client,
		model:         cfg.Model,
		embedderModel: cfg.EmbedderModel,
		temperature:   cfg.Temperature,
		maxTokens:     int32(cfg.MaxTokens),
		limiter:       limiter,
		breaker:       NewCircuitBreaker(cfg.Breaker),
		retry:         cfg.Retry,
		logger:        logger.With("component", "llm"),
	}, nil
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() CircuitState {
	return c.breaker.State()
}

// Stream generates a response to the conversation and forwards each text
// chunk to onChunk as it arrives. It returns the accumulated text.
//
// A non-nil error from onChunk aborts the stream; this is how handlers stop
// generation when the HTTP client disconnects. Streaming calls are not
// retried once the first chunk has been delivered.
func (c *Client) Stream(ctx context.Context, system string, history []Turn, onChunk func(string) error) (string, error) {
	if err := c.breaker.Allow(); err != nil {
		return "", err
	}

	contents := turnsToContents(history)
	cfg := c.generateConfig(system)

	var sb strings.Builder
	delivered := false

	err := c.executeWithRetry(ctx, "generate_stream", func(ctx context.Context) error {
		sb.Reset()
		delivered = false

		for resp, err := range c.genai.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
			if err != nil {
				if delivered {
					// Mid-stream failure: retrying would replay chunks
					// the client already saw.
					return permanent(err)
				}
				return err
			}

			chunk := resp.Text()
			if chunk == "" {
				continue
			}
			sb.WriteString(chunk)
			delivered = true

			if err := onChunk(chunk); err != nil {
				return permanent(fmt.Errorf("chunk callback: %w", err))
			}
		}
		return nil
	})
	if err != nil {
		c.breaker.Failure()
		return "", err
	}

	c.breaker.Success()
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// EmbedDocuments embeds texts for storage in the retrieval index.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, taskRetrievalDocument)
}

// EmbedQuery embeds a search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dim := VectorDimension
	var result *genai.EmbedContentResponse

	err := c.executeWithRetry(ctx, "embed", func(ctx context.Context) error {
		var err error
		result, err = c.genai.Models.EmbedContent(ctx, c.embedderModel, contents, &genai.EmbedContentConfig{
			TaskType:             taskType,
			OutputDimensionality: &dim,
		})
		return err
	})
	if err != nil {
		c.breaker.Failure()
		return nil, err
	}
	c.breaker.Success()

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmptyResponse, len(result.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if len(emb.Values) != int(VectorDimension) {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb.Values), VectorDimension)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// GenerateTitle produces a short conversation title from the first user
// message. Best-effort: on any failure the caller should fall back to a
// truncated form of the message itself (see FallbackTitle).
func (c *Client) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	if err := c.breaker.Allow(); err != nil {
		return "", err
	}

	prompt := "Summarize the following question as a conversation title of at most six words. " +
		"Reply with the title only, no quotes.\n\n" + firstMessage
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(""))
	if err != nil {
		c.breaker.Failure()
		return "", fmt.Errorf("generating title: %w", err)
	}
	c.breaker.Success()

	title := strings.TrimSpace(strings.Trim(resp.Text(), `"`))
	if title == "" {
		return "", ErrEmptyResponse
	}
	return truncateTitle(title), nil
}

// FallbackTitle derives a title directly from the message text.
func FallbackTitle(message string) string {
	title := strings.TrimSpace(message)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	return truncateTitle(title)
}

func truncateTitle(s string) string {
	runes := []rune(s)
	if len(runes) <= maxTitleLength {
		return s
	}
	return string(runes[:maxTitleLength-3]) + "..."
}

func (c *Client) generateConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

func turnsToContents(history []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return contents
}
