// Package embed provides the embedding providers used to vectorize mention
// contexts and ontology concept labels for candidate retrieval and
// reranking. Grounded on rishianshu-Nucleus's
// brain-core/internal/activities/embedding.go: the same EmbeddingProvider
// shape, the same openAI/local/zero provider trio, and the same
// env-driven provider selection, generalized to GEO concept linking.
package embed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chewxy/math32"
)

// ErrInvalidDim is returned when a provider is configured with dim <= 0.
var ErrInvalidDim = errors.New("embed: invalid embedding dimension")

// Provider is the minimal embedding API every backend implements.
type Provider interface {
	EmbedText(texts []string) ([][]float32, error)
	ModelID() string
	Dim() int
}

// NewFromEnv selects a provider the same way brain-core's
// getEmbeddingProvider does: EMBEDDING_PROVIDER in {openai, local}, falling
// back to a deterministic zero-vector provider, with EMBED_DIM overriding
// the default dimension.
func NewFromEnv() Provider {
	dim := 384
	if v := os.Getenv("EMBED_DIM"); v != "" {
		if parsed, err := parsePositiveInt(v); err == nil {
			dim = parsed
		}
	}
	switch strings.ToLower(os.Getenv("EMBEDDING_PROVIDER")) {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		model := os.Getenv("EMBEDDING_MODEL")
		if model == "" {
			model = "text-embedding-3-small"
		}
		if apiKey != "" {
			return &openAIProvider{apiKey: apiKey, model: model, dim: dim}
		}
	case "local":
		return &LocalProvider{dim: dim}
	}
	return &zeroProvider{dim: dim}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, ErrInvalidDim
	}
	return n, nil
}

// zeroProvider is the offline placeholder for environments with no
// embedding backend configured: every text maps to the zero vector, which
// cosine-similarity treats as maximally dissimilar to everything, a safe
// fail-open default for vector retrieval (lexical retrieval still works).
type zeroProvider struct{ dim int }

func (p *zeroProvider) EmbedText(texts []string) ([][]float32, error) {
	if p.dim <= 0 {
		return nil, ErrInvalidDim
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dim)
	}
	return out, nil
}

func (p *zeroProvider) ModelID() string { return "zero-vector" }
func (p *zeroProvider) Dim() int        { return p.dim }

// openAIProvider calls the OpenAI embeddings endpoint directly, matching
// brain-core's hand-rolled HTTP client (no SDK dependency appears anywhere
// in the retrieved pack for this call).
type openAIProvider struct {
	apiKey string
	model  string
	dim    int
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (p *openAIProvider) EmbedText(texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(openAIRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed: openai request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed: openai request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	var decoded openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) != len(texts) {
		return nil, errors.New("embed: embedding count mismatch")
	}
	out := make([][]float32, len(texts))
	for i, d := range decoded.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func (p *openAIProvider) ModelID() string { return p.model }
func (p *openAIProvider) Dim() int        { return p.dim }

// LocalProvider produces deterministic hashed bag-of-words embeddings with
// no external services, for offline runs and tests: each word hashes (FNV32a)
// into a bucket, bucket counts form the vector, then it's L2-normalized.
// Exported (unlike brain-core's unexported localProvider) because the
// pipeline and its tests construct it directly for determinism.
type LocalProvider struct{ dim int }

// NewLocalProvider builds a LocalProvider with the given dimension.
func NewLocalProvider(dim int) *LocalProvider {
	return &LocalProvider{dim: dim}
}

func (p *LocalProvider) EmbedText(texts []string) ([][]float32, error) {
	if p.dim <= 0 {
		return nil, ErrInvalidDim
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embedOne(t)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dim)
	words := strings.Fields(text)
	if len(words) == 0 {
		return vec
	}
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		idx := int(h.Sum32() % uint32(p.dim))
		vec[idx] += 1.0
	}
	var sumSq float32
	for _, v := range vec {
		sumSq += v * v
	}
	if sumSq > 0 {
		norm := float32(1.0) / math32.Sqrt(sumSq)
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec
}

func (p *LocalProvider) ModelID() string { return fmt.Sprintf("local-fnv-hash-%d", p.dim) }
func (p *LocalProvider) Dim() int        { return p.dim }
