package keypool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider is a full provider client: chat generation plus embeddings.
type Provider interface {
	llms.Model
	embeddings.EmbedderClient
}

// ProviderFactory builds a provider client bound to one credential.
type ProviderFactory func(cred Credential) (Provider, error)

// OpenAIFactory returns a factory for OpenAI-compatible endpoints.
func OpenAIFactory(baseURL, chatModel, embeddingModel string) ProviderFactory {
	return func(cred Credential) (Provider, error) {
		opts := []openai.Option{
			openai.WithToken(cred.Key),
			openai.WithModel(chatModel),
			openai.WithEmbeddingModel(embeddingModel),
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(opts...)
	}
}

// Proxy exposes a provider whose every call goes through the pool. It
// satisfies llms.Model and embeddings.EmbedderClient.
type Proxy struct {
	pool           *Pool
	factory        ProviderFactory
	chatModel      string
	embeddingModel string
	callTimeout    time.Duration

	mu      sync.Mutex
	clients map[string]Provider
}

// ProxyConfig names the models used for usage statistics and bounds each
// provider call.
type ProxyConfig struct {
	ChatModel      string
	EmbeddingModel string
	CallTimeout    time.Duration
}

// NewProxy wraps factory-built clients behind pool.
func NewProxy(pool *Pool, factory ProviderFactory, cfg ProxyConfig) *Proxy {
	return &Proxy{
		pool:           pool,
		factory:        factory,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		callTimeout:    cfg.CallTimeout,
		clients:        make(map[string]Provider),
	}
}

var (
	_ llms.Model                = (*Proxy)(nil)
	_ embeddings.EmbedderClient = (*Proxy)(nil)
)

// GenerateContent implements llms.Model.
func (p *Proxy) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return Do(ctx, p.pool, p.modelFor(options), func(ctx context.Context, cred Credential) (*llms.ContentResponse, error) {
		client, err := p.client(cred)
		if err != nil {
			return nil, err
		}
		callCtx, cancel := p.detach(ctx)
		defer cancel()
		resp, err := client.GenerateContent(callCtx, messages, options...)
		return resp, p.timeoutErr(callCtx, err)
	})
}

// Call implements llms.Model.
func (p *Proxy) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, p, prompt, options...)
}

// CreateEmbedding implements embeddings.EmbedderClient.
func (p *Proxy) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return Do(ctx, p.pool, p.embeddingModel, func(ctx context.Context, cred Credential) ([][]float32, error) {
		client, err := p.client(cred)
		if err != nil {
			return nil, err
		}
		callCtx, cancel := p.detach(ctx)
		defer cancel()
		vectors, err := client.CreateEmbedding(callCtx, texts)
		return vectors, p.timeoutErr(callCtx, err)
	})
}

// modelFor resolves the model named by call options, falling back to the
// configured chat model.
func (p *Proxy) modelFor(options []llms.CallOption) string {
	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Model != "" {
		return opts.Model
	}
	return p.chatModel
}

func (p *Proxy) client(cred Credential) (Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[cred.ID]; ok {
		return c, nil
	}
	c, err := p.factory(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}
	p.clients[cred.ID] = c
	return c, nil
}

// detach lets an in-flight call outlive the caller's cancellation while
// still bounding it by the call timeout.
func (p *Proxy) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if p.callTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, p.callTimeout)
}

// timeoutErr turns an expired call timeout into a gateway timeout so the
// pool rotates instead of treating it as caller cancellation.
func (p *Proxy) timeoutErr(callCtx context.Context, err error) error {
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &HTTPError{Status: http.StatusGatewayTimeout, Message: "provider call timed out"}
	}
	return err
}
