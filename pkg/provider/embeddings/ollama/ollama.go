// Package ollama implements embeddings.Provider against a local Ollama
// server's /api/embed endpoint. It works with any embedding model Ollama
// can pull, including nomic-embed-text, mxbai-embed-large and all-minilm.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vec, err := p.Embed(ctx, "query: lasers or feelings?")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/starcrew-ai/starcrew/pkg/provider/embeddings"
)

// DefaultBaseURL is where a stock Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider talks to one Ollama server with one embedding model.
//
// The vector dimension comes from, in order: [WithDimensions], a built-in
// table of well-known models, or a one-time detection call against the live
// server on the first Dimensions call. Safe for concurrent use.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	// dims stays zero for unknown models until detectOnce fills it.
	dims       int
	detectOnce sync.Once
	detectErr  error
}

type options struct {
	timeout time.Duration
	dims    int
}

// Option configures a Provider.
type Option func(*options)

// WithTimeout bounds each HTTP request. Zero or negative means no timeout,
// which is the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDimensions fixes the vector dimension up front so Dimensions never
// has to ask the server. Use it for models the built-in table does not know.
func WithDimensions(dims int) Option {
	return func(o *options) { o.dims = dims }
}

// New builds a Provider for the given server and model. An empty baseURL
// means [DefaultBaseURL]; a trailing slash is tolerated. The model name is
// required.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	client := &http.Client{}
	if o.timeout > 0 {
		client.Timeout = o.timeout
	}

	dims := o.dims
	if dims == 0 {
		dims = knownDimensions(model)
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		dims:    dims,
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single text. The text goes to Ollama
// verbatim: model-specific prefixes like nomic's "query: " are the caller's
// job.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request, returning vectors in input
// order. An empty input returns (nil, nil) without touching the network; an
// error returns no partial results.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions reports the model's vector length. For models the table does
// not cover and no option pre-set, the first call embeds a throwaway string
// against the live server and caches the length; if that call fails it
// returns 0.
func (p *Provider) Dimensions() int {
	if p.dims != 0 {
		return p.dims
	}
	p.detectOnce.Do(func() {
		vecs, err := p.post(context.Background(), []string{"dimension check"})
		if err != nil {
			p.detectErr = err
			return
		}
		if len(vecs) > 0 {
			p.dims = len(vecs[0])
		}
	})
	return p.dims
}

// ModelID returns the model name this Provider was built with.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions maps recognised model names to their output size. Unknown
// models return 0 and get detected lazily.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	}
	return 0
}
