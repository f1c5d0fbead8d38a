package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/timmy/tunematch/internal/config"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"
)

// EmbeddingProvider turns texts into vectors. Implementations return one
// vector per input text, in input order.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
	Dimensions() int
}

// EmbeddingProviderConfig holds what a provider needs to reach its backend.
type EmbeddingProviderConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// NewEmbeddingProvider builds the provider named by cfg.Provider.
func NewEmbeddingProvider(cfg *EmbeddingProviderConfig) (EmbeddingProvider, error) {
	switch cfg.Provider {
	case config.ProviderJina:
		return NewJinaProvider(cfg), nil
	case config.ProviderOpenAICompatible:
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// JinaProvider calls the Jina embeddings API over resty.
type JinaProvider struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
}

func NewJinaProvider(cfg *EmbeddingProviderConfig) *JinaProvider {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	endpoint := jinaEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	}

	return &JinaProvider{
		client:     client,
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func (p *JinaProvider) GetModel() string { return p.model }
func (p *JinaProvider) Dimensions() int  { return p.dimensions }

type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// EmbedBatch embeds texts with the text-matching task, which suits
// symmetric track-to-playlist comparison.
func (p *JinaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := jinaRequest{
		Model:         p.model,
		Task:          "text-matching",
		Dimensions:    p.dimensions,
		Input:         texts,
		EmbeddingType: "float",
	}

	var resp jinaResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call Jina API: %w", err)
	}
	if httpResp.StatusCode() != 200 {
		return nil, &BackendError{Provider: "Jina", StatusCode: httpResp.StatusCode(), Message: resp.Detail}
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}
	if err := checkEmbeddings(embeddings, p.dimensions); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// OpenAIProvider calls any OpenAI-compatible embeddings endpoint.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
}

func NewOpenAIProvider(cfg *EmbeddingProviderConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func (p *OpenAIProvider) GetModel() string { return p.model }
func (p *OpenAIProvider) Dimensions() int  { return p.dimensions }

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}
	if err := checkEmbeddings(embeddings, p.dimensions); err != nil {
		return nil, err
	}
	return embeddings, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &BackendError{Provider: "OpenAI", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &BackendError{Provider: "OpenAI", StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("create embeddings failed: %w", err)
}

// checkEmbeddings rejects missing slots and wrong dimensions. With no
// configured dimensions the first vector sets the expected length.
func checkEmbeddings(embeddings [][]float32, dimensions int) error {
	for i, e := range embeddings {
		if len(e) == 0 {
			return fmt.Errorf("%w: no embedding for input %d", ErrInvalidEmbedding, i)
		}
		if dimensions <= 0 {
			dimensions = len(e)
			continue
		}
		if len(e) != dimensions {
			return fmt.Errorf("%w: input %d has %d dimensions, expected %d", ErrInvalidEmbedding, i, len(e), dimensions)
		}
	}
	return nil
}
