// Package rerank implements cross-encoder reranking of retrieval
// candidates from spec.md §4.5: score each (mention context, candidate)
// pair, then derive best/best_score/margin/top. Grounded on
// rishianshu-Nucleus's pkg/ner.LLMProvider/CompletionOptions shape for the
// model-backed variant, reused here for a scoring rather than
// generation call.
package rerank

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nucleus/geo-linker/internal/contracts"
)

// Result is the reranked outcome for one mention's candidate set, per
// spec.md §4.5.
type Result struct {
	Best      *contracts.Candidate
	BestScore float64
	Margin    float64
	Top       []contracts.Candidate
}

// Reranker scores a query string against each candidate and returns a
// Result with candidates sorted by (-score, candidate_id), truncated to
// topN.
type Reranker interface {
	Rerank(query string, candidates []contracts.Candidate, topN int) (Result, error)
}

// fromScored builds a Result from already-scored candidates, applying
// spec.md §4.5's rules: margin = top[0]-top[1] if >=2 candidates, else 1.0
// if a best exists, else 0.0; empty candidates yield a fully-empty Result.
// margin/best are computed over the full sorted list before topN limits
// Top, matching original_source/reranker.py (margin never sees a
// truncated list).
func fromScored(scored []contracts.Candidate, topN int) Result {
	if len(scored) == 0 {
		return Result{Best: nil, BestScore: 0, Margin: 0, Top: []contracts.Candidate{}}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CandidateID < scored[j].CandidateID
	})
	best := scored[0]
	margin := 1.0
	if len(scored) >= 2 {
		margin = scored[0].Score - scored[1].Score
	}
	top := scored
	if topN > 0 && len(top) > topN {
		top = top[:topN]
	}
	return Result{Best: &best, BestScore: best.Score, Margin: margin, Top: top}
}

// DummyReranker passes retrieval scores through unchanged: a deterministic,
// dependency-free fallback for offline runs and tests, matching spec.md's
// allowance for pluggable reranker backends with identity scoring.
type DummyReranker struct{}

func (DummyReranker) Rerank(_ string, candidates []contracts.Candidate, topN int) (Result, error) {
	scored := make([]contracts.Candidate, len(candidates))
	copy(scored, candidates)
	return fromScored(scored, topN), nil
}

// CrossEncoderProvider abstracts a model backend that scores a (query,
// document) pair, mirroring pkg/ner.LLMProvider's Complete/Name shape.
type CrossEncoderProvider interface {
	Complete(ctx context.Context, prompt string, options CompletionOptions) (string, error)
	Name() string
}

// CompletionOptions configures one scoring call.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// ModelReranker asks a CrossEncoderProvider to emit a single numeric score
// per candidate. The prompt is the query as given, then "\n\nCANDIDATE:\n",
// then "{candidate_label}" optionally followed by "\n\nDEF:\n{definition}".
type ModelReranker struct {
	provider CrossEncoderProvider
	model    string
}

// NewModelReranker builds a ModelReranker over the given provider.
func NewModelReranker(provider CrossEncoderProvider, model string) *ModelReranker {
	if model == "" {
		model = "cross-encoder-default"
	}
	return &ModelReranker{provider: provider, model: model}
}

func (r *ModelReranker) Rerank(query string, candidates []contracts.Candidate, topN int) (Result, error) {
	ctx := context.Background()
	scored := make([]contracts.Candidate, 0, len(candidates))
	for _, c := range candidates {
		rhs := c.CandidateLabel
		if c.Definition != "" {
			rhs = rhs + "\n\nDEF:\n" + c.Definition
		}
		prompt := query + "\n\nCANDIDATE:\n" + rhs
		completion, err := r.provider.Complete(ctx, prompt, CompletionOptions{Model: r.model, MaxTokens: 16, Temperature: 0})
		if err != nil {
			return Result{}, fmt.Errorf("rerank: score candidate %s: %w", c.CandidateID, err)
		}
		score, err := parseScore(completion)
		if err != nil {
			return Result{}, fmt.Errorf("rerank: parse score for candidate %s: %w", c.CandidateID, err)
		}
		scored = append(scored, contracts.Candidate{
			CandidateID:    c.CandidateID,
			CandidateLabel: c.CandidateLabel,
			Score:          score,
			Source:         "rerank",
			Definition:     c.Definition,
		})
	}
	return fromScored(scored, topN), nil
}

func parseScore(completion string) (float64, error) {
	trimmed := strings.TrimSpace(completion)
	return strconv.ParseFloat(trimmed, 64)
}

var _ Reranker = DummyReranker{}
var _ Reranker = (*ModelReranker)(nil)
