// Package llm provides a grammar Reviewer backed by a chat completion model
// through github.com/mozilla-ai/any-llm-go, a unified multi-provider
// interface that supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek,
// Mistral, Groq, and more.
//
// Usage:
//
//	r, err := llm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	verdict, err := r.Review(ctx, grammar.Request{...})
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MrWong99/sorivox/pkg/jsonx"
	"github.com/MrWong99/sorivox/pkg/provider/grammar"
)

// Completer is the minimal completion surface the reviewer needs. Production
// code wraps an any-llm-go backend; tests substitute a stub.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// verdictSchema validates the model's JSON answer before it is trusted.
// Models occasionally return the right shape with wrong types (a string
// where the array belongs); schema validation catches that up front.
var verdictSchema = jsonschema.MustCompileString("grammar-verdict.json", `{
	"type": "object",
	"properties": {
		"mistakes": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"said": {"type": "string"},
					"correct": {"type": "string"},
					"reason": {"type": "string"}
				},
				"required": ["said", "correct"]
			}
		},
		"tutorComment": {"type": "string"}
	},
	"required": ["tutorComment"]
}`)

const systemPrompt = `You are a friendly language tutor reviewing a learner's spoken sentence.
Compare what the learner was asked to say with what they actually said.
Point out grammar and word-choice mistakes only; ignore pronunciation and minor recognition noise.
Respond with JSON only, using exactly this shape:
{"mistakes": [{"said": "...", "correct": "...", "reason": "..."}], "tutorComment": "..."}
Each mistake quotes the problematic fragment as said, gives the corrected form, and explains why.
Use an empty mistakes array when the sentence was fine. Keep tutorComment to one or two encouraging sentences.`

// Reviewer implements grammar.Reviewer on top of a Completer.
type Reviewer struct {
	completer Completer
}

var _ grammar.Reviewer = (*Reviewer)(nil)

// New creates a Reviewer backed by the named any-llm-go provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". If no API key
// option is provided, the backend falls back to its environment variable
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on).
func New(providerName, model string, opts ...anyllmlib.Option) (*Reviewer, error) {
	if providerName == "" {
		return nil, fmt.Errorf("grammar/llm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("grammar/llm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("grammar/llm: create %q backend: %w", providerName, err)
	}

	return &Reviewer{completer: &anyllmCompleter{backend: backend, model: model}}, nil
}

// NewWithCompleter creates a Reviewer over a caller-supplied Completer.
func NewWithCompleter(c Completer) *Reviewer {
	return &Reviewer{completer: c}
}

// Review implements grammar.Reviewer. The model's answer goes through the
// lenient jsonx extraction and schema validation; anything that survives both
// maps to a Verdict.
func (r *Reviewer) Review(ctx context.Context, req grammar.Request) (grammar.Verdict, error) {
	if req.TargetText == "" {
		return grammar.Verdict{}, fmt.Errorf("grammar/llm: empty target text")
	}

	raw, err := r.completer.Complete(ctx, systemPrompt, userPrompt(req))
	if err != nil {
		return grammar.Verdict{}, fmt.Errorf("grammar/llm: completion: %w", err)
	}

	data, err := jsonx.ExtractObject(raw)
	if err != nil {
		return grammar.Verdict{}, fmt.Errorf("grammar/llm: model answer is not JSON (%q): %w", truncate(raw, 200), err)
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return grammar.Verdict{}, fmt.Errorf("grammar/llm: decode answer: %w", err)
	}
	if err := verdictSchema.Validate(payload); err != nil {
		return grammar.Verdict{}, fmt.Errorf("grammar/llm: answer failed schema validation: %w", err)
	}

	var parsed struct {
		Mistakes []struct {
			Said    string `json:"said"`
			Correct string `json:"correct"`
			Reason  string `json:"reason"`
		} `json:"mistakes"`
		TutorComment string `json:"tutorComment"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return grammar.Verdict{}, fmt.Errorf("grammar/llm: map answer: %w", err)
	}

	verdict := grammar.Verdict{TutorComment: strings.TrimSpace(parsed.TutorComment)}
	for _, m := range parsed.Mistakes {
		verdict.Mistakes = append(verdict.Mistakes, grammar.Mistake{
			Said:    m.Said,
			Correct: m.Correct,
			Reason:  m.Reason,
		})
	}
	return verdict, nil
}

// userPrompt renders one review request.
func userPrompt(req grammar.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Language: %s\n", req.Locale)
	fmt.Fprintf(&b, "The learner was asked to say: %q\n", req.TargetText)
	fmt.Fprintf(&b, "Speech recognition heard: %q\n", req.Transcript)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ── any-llm-go backend ──────────────────────────────────────────────────────

// anyllmCompleter adapts an any-llm-go Provider to the Completer surface.
type anyllmCompleter struct {
	backend anyllmlib.Provider
	model   string
}

func (c *anyllmCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	temp := 0.3
	resp, err := c.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: c.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}
