// Package extract implements mention extraction over a sample's raw_fields:
// the polymorphic Extractor capability from spec.md §4.3. Grounded on
// rishianshu-Nucleus's pkg/ner.NERExtractor (provider-backed extraction
// shape, prompt construction, response parsing) generalized from free-text
// enterprise entities to labeled ontology mentions, plus a deterministic
// regex-pattern variant (spec.md's primary, dependency-free variant).
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nucleus/geo-linker/internal/contracts"
)

// Extractor produces an ordered sequence of mentions from a sample's
// normalized raw fields (string-typed values only).
type Extractor interface {
	Extract(rawFields map[string]string) ([]contracts.Mention, error)
}

// sortMentions orders mentions by (source_field, start, end, label,
// surface_form) so every Extractor implementation yields a stable sequence
// regardless of map iteration order.
func sortMentions(mentions []contracts.Mention) {
	sort.Slice(mentions, func(i, j int) bool {
		a, b := mentions[i], mentions[j]
		if a.SourceField != b.SourceField {
			return a.SourceField < b.SourceField
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.SurfaceForm < b.SurfaceForm
	})
}

// PatternExtractor is configured with {label -> compiled regular
// expression}. For each (field, label) it finds every non-empty,
// case-insensitive match and emits a Mention with field-scoped offsets and
// a fixed confidence (spec.md §4.3's Pattern variant).
type PatternExtractor struct {
	patterns   map[string]*regexp.Regexp
	labelOrder []string
	confidence float64
}

// NewPatternExtractor compiles one case-insensitive regular expression per
// label. patterns maps label -> a Go regexp source (without the `(?i)`
// prefix; it is added automatically). confidence is the fixed
// extractor_conf attached to every emitted mention.
func NewPatternExtractor(patterns map[string]string, confidence float64) (*PatternExtractor, error) {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	labels := make([]string, 0, len(patterns))
	for label, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("extract: compile pattern for label %q: %w", label, err)
		}
		compiled[label] = re
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return &PatternExtractor{patterns: compiled, labelOrder: labels, confidence: confidence}, nil
}

// Extract scans every configured (field, label) pair against rawFields.
func (p *PatternExtractor) Extract(rawFields map[string]string) ([]contracts.Mention, error) {
	fields := make([]string, 0, len(rawFields))
	for f := range rawFields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var mentions []contracts.Mention
	for _, field := range fields {
		text := rawFields[field]
		if text == "" {
			continue
		}
		for _, label := range p.labelOrder {
			re := p.patterns[label]
			for _, loc := range re.FindAllStringIndex(text, -1) {
				start, end := loc[0], loc[1]
				if end <= start {
					continue
				}
				m := contracts.Mention{
					Label:         label,
					SurfaceForm:   text[start:end],
					SourceField:   field,
					Start:         start,
					End:           end,
					ExtractorConf: p.confidence,
				}
				if err := m.Validate(); err != nil {
					// Invalid offsets are rejected (spec.md §4.5): skip, don't fail the run.
					continue
				}
				mentions = append(mentions, m)
			}
		}
	}
	sortMentions(mentions)
	return mentions, nil
}

// LLMProvider abstracts the completion backend a model-backed extractor
// calls, mirroring pkg/ner.LLMProvider's shape exactly.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string, options CompletionOptions) (string, error)
	Name() string
}

// CompletionOptions configures one completion call.
type CompletionOptions struct {
	Model        string
	MaxTokens    int
	Temperature  float32
	SystemPrompt string
}

// ModelExtractor asks an LLMProvider to tag spans for a configured label set,
// for deployments that want model-backed extraction instead of (or beside)
// PatternExtractor. Grounded on pkg/ner.NERExtractor's prompt/parse shape;
// the prompt here asks for labels from this extractor's own set rather than
// NER's generic person/org/etc. typology.
type ModelExtractor struct {
	provider    LLMProvider
	model       string
	labels      []string
	maxTokens   int
	temperature float32
}

// NewModelExtractor creates a model-backed extractor over the given labels.
func NewModelExtractor(provider LLMProvider, model string, labels []string) *ModelExtractor {
	if model == "" {
		model = "gpt-4o-mini"
	}
	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)
	return &ModelExtractor{provider: provider, model: model, labels: sorted, maxTokens: 2048, temperature: 0.1}
}

type modelSpan struct {
	Label       string  `json:"label"`
	SurfaceForm string  `json:"surface_form"`
	SourceField string  `json:"source_field"`
	Confidence  float64 `json:"confidence"`
}

// Extract builds one prompt per field (so offsets can be found by exact
// substring search within that field alone) and asks the provider to
// return a JSON array of spans.
func (m *ModelExtractor) Extract(rawFields map[string]string) ([]contracts.Mention, error) {
	fields := make([]string, 0, len(rawFields))
	for f := range rawFields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var mentions []contracts.Mention
	ctx := context.Background()
	for _, field := range fields {
		text := rawFields[field]
		if text == "" {
			continue
		}
		prompt := m.buildPrompt(field, text)
		options := CompletionOptions{
			Model:        m.model,
			MaxTokens:    m.maxTokens,
			Temperature:  m.temperature,
			SystemPrompt: m.systemPrompt(),
		}
		completion, err := m.provider.Complete(ctx, prompt, options)
		if err != nil {
			return nil, fmt.Errorf("extract: model completion for field %s: %w", field, err)
		}
		spans, err := m.parseResponse(completion)
		if err != nil {
			return nil, fmt.Errorf("extract: parse model response for field %s: %w", field, err)
		}
		for _, sp := range spans {
			if sp.SurfaceForm == "" {
				continue
			}
			start := strings.Index(text, sp.SurfaceForm)
			if start < 0 {
				continue
			}
			end := start + len(sp.SurfaceForm)
			mention := contracts.Mention{
				Label:         sp.Label,
				SurfaceForm:   sp.SurfaceForm,
				SourceField:   field,
				Start:         start,
				End:           end,
				ExtractorConf: sp.Confidence,
			}
			if mention.ExtractorConf <= 0 {
				mention.ExtractorConf = 0.8
			}
			if err := mention.Validate(); err != nil {
				continue
			}
			mentions = append(mentions, mention)
		}
	}
	sortMentions(mentions)
	return mentions, nil
}

func (m *ModelExtractor) buildPrompt(field, text string) string {
	var sb strings.Builder
	sb.WriteString("Extract every mention of the following labels from the text field below.\n\n")
	sb.WriteString("Labels: ")
	sb.WriteString(strings.Join(m.labels, ", "))
	sb.WriteString("\n\n")
	sb.WriteString("Field: ")
	sb.WriteString(field)
	sb.WriteString("\nText:\n```\n")
	sb.WriteString(text)
	sb.WriteString("\n```\n\n")
	sb.WriteString("Respond with a JSON array; each element has:\n")
	sb.WriteString("- label: one of the labels above\n")
	sb.WriteString("- surface_form: the exact substring from Text\n")
	sb.WriteString("- confidence: 0 to 1\n")
	sb.WriteString("Return ONLY the JSON array.")
	return sb.String()
}

func (m *ModelExtractor) systemPrompt() string {
	return "You are a precise span-extraction system for biomedical sample metadata. " +
		"Only return exact verbatim substrings of the given text; never paraphrase."
}

func (m *ModelExtractor) parseResponse(response string) ([]modelSpan, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var spans []modelSpan
	if err := json.Unmarshal([]byte(response), &spans); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return spans, nil
}

var _ Extractor = (*PatternExtractor)(nil)
var _ Extractor = (*ModelExtractor)(nil)
