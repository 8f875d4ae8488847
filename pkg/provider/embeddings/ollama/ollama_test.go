package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starcrew-ai/starcrew/pkg/provider/embeddings/ollama"
)

// deadEndpoint is a local address nothing listens on, for tests that must
// not reach the network.
const deadEndpoint = "http://127.0.0.1:19999"

// embedServer serves /api/embed with canned vectors, trimmed to the number
// of inputs in each request, and checks the model name on the way in.
func embedServer(t *testing.T, model string, vectors [][]float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
			t.Errorf("request = %s %s, want POST /api/embed", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != model {
			t.Errorf("request model = %q, want %q", req.Model, model)
		}

		out := vectors
		if len(out) > len(req.Input) {
			out = out[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      model,
			"embeddings": out,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	if _, err := ollama.New("", ""); err == nil {
		t.Error("New with empty model: want error")
	}

	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New with default base URL: %v", err)
	}
	if p.ModelID() != "nomic-embed-text" {
		t.Errorf("ModelID = %q, want nomic-embed-text", p.ModelID())
	}
}

func TestEmbed(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3, 0.4}
	srv := embedServer(t, "nomic-embed-text", [][]float32{want})

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Embed(context.Background(), "the raiders circle the shuttle")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("vector length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEmbedBatch_KeepsInputOrder(t *testing.T) {
	vecs := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
		{0.7, 0.8, 0.9},
	}
	srv := embedServer(t, "nomic-embed-text", vecs)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != len(vecs) {
		t.Fatalf("got %d vectors, want %d", len(got), len(vecs))
	}
	for i := range vecs {
		for j := range vecs[i] {
			if got[i][j] != vecs[i][j] {
				t.Errorf("vec[%d][%d] = %v, want %v", i, j, got[i][j], vecs[i][j])
			}
		}
	}
}

func TestEmbedBatch_EmptyInputSkipsNetwork(t *testing.T) {
	p, err := ollama.New(deadEndpoint, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if got != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", got)
	}
}

func TestDimensions_KnownModelsNeedNoServer(t *testing.T) {
	for model, want := range map[string]int{
		"nomic-embed-text":        768,
		"nomic-embed-text:latest": 768,
		"mxbai-embed-large":       1024,
		"all-minilm":              384,
	} {
		p, err := ollama.New(deadEndpoint, model)
		if err != nil {
			t.Fatalf("New(%s): %v", model, err)
		}
		if got := p.Dimensions(); got != want {
			t.Errorf("Dimensions(%s) = %d, want %d", model, got, want)
		}
	}
}

func TestDimensions_DetectsUnknownModelOnce(t *testing.T) {
	const dim = 512
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(i) / float32(dim)
	}

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      "custom-embed",
			"embeddings": [][]float32{vec},
		})
	}))
	defer srv.Close()

	p, err := ollama.New(srv.URL, "custom-embed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := range 3 {
		if got := p.Dimensions(); got != dim {
			t.Errorf("Dimensions call %d = %d, want %d", i, got, dim)
		}
	}
	if requests != 1 {
		t.Errorf("detection hit the server %d times, want 1", requests)
	}
}

func TestDimensions_OptionWins(t *testing.T) {
	p, err := ollama.New(deadEndpoint, "custom-model", ollama.WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions = %d, want 256", got)
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Run("unreachable server", func(t *testing.T) {
		p, err := ollama.New(deadEndpoint, "nomic-embed-text",
			ollama.WithTimeout(500*time.Millisecond))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("Embed against a dead server: want error")
		}
	})

	t.Run("server error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}))
		defer srv.Close()

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("Embed with a 500 response: want error")
		}
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("not-json"))
		}))
		defer srv.Close()

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("Embed with an unparseable body: want error")
		}
	})
}

func TestEmbed_HonoursContextDeadline(t *testing.T) {
	// The handler blocks until the client gives up; stop unblocks it so
	// srv.Close can drain connections.
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	defer srv.Close()
	defer close(stop)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "hello"); err == nil {
		t.Fatal("Embed past its deadline: want error")
	}
}
