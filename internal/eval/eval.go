// Package eval orchestrates one spoken-sentence evaluation: transcribe the
// learner's audio, align the transcript against the target sentence, and
// enrich the result with optional pronunciation and grammar critiques.
//
// Speech recognition is the only required collaborator; its failure fails the
// evaluation. The critique branches are best-effort: they run concurrently,
// are guarded by circuit breakers, and degrade to an unavailable verdict
// rather than surfacing errors.
package eval

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sorivox/internal/align"
	"github.com/MrWong99/sorivox/internal/observe"
	"github.com/MrWong99/sorivox/internal/resilience"
	"github.com/MrWong99/sorivox/pkg/audio"
	"github.com/MrWong99/sorivox/pkg/provider/grammar"
	"github.com/MrWong99/sorivox/pkg/provider/pronunciation"
	"github.com/MrWong99/sorivox/pkg/provider/stt"
)

const (
	// DefaultLocale is assumed when a request does not name one.
	DefaultLocale = "ko-KR"

	// MaxAudioBytes is the upload ceiling for one recording.
	MaxAudioBytes = 25 << 20

	defaultPronunciationTimeout = 45 * time.Second
	defaultGrammarTimeout       = 20 * time.Second
)

// Sentinel error kinds. The HTTP layer maps ErrValidation to 400 and the
// remaining kinds to 503.
var (
	ErrValidation  = errors.New("invalid request")
	ErrUnavailable = errors.New("dependency unavailable")
	ErrUpstream    = errors.New("upstream failure")
	ErrTimeout     = errors.New("deadline exceeded")
	ErrProtocol    = errors.New("protocol violation")
)

// Request is one evaluation: a target sentence and the learner's recording.
type Request struct {
	// TargetText is the sentence the learner was asked to say.
	TargetText string

	// Locale is the BCP-47 tag of the practiced language. Empty means
	// DefaultLocale.
	Locale string

	// Audio is the learner's recording as a RIFF/WAVE container.
	Audio []byte
}

// Result is a finished evaluation.
type Result struct {
	TargetText string
	Transcript string

	// Alignment carries the character-level score and diff.
	Alignment align.Result

	// Pronunciation is the realtime critique; Available is false when the
	// analyzer is not configured or failed.
	Pronunciation pronunciation.Verdict

	// Grammar is the LLM critique; zero-valued when the reviewer is not
	// configured or failed.
	Grammar grammar.Verdict
}

// ── Options ─────────────────────────────────────────────────────────────────

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithPronunciation wires the optional pronunciation analyzer.
func WithPronunciation(a pronunciation.Analyzer) Option {
	return func(o *Orchestrator) { o.pron = a }
}

// WithGrammar wires the optional grammar reviewer.
func WithGrammar(r grammar.Reviewer) Option {
	return func(o *Orchestrator) { o.grammar = r }
}

// WithRetrier replaces the retry policy used for the STT and grammar calls.
func WithRetrier(r *resilience.Retrier) Option {
	return func(o *Orchestrator) { o.retrier = r }
}

// WithMetrics replaces the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithPronunciationTimeout bounds the pronunciation branch per request.
func WithPronunciationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.pronTimeout = d }
}

// WithGrammarTimeout bounds the grammar branch per request.
func WithGrammarTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.grammarTimeout = d }
}

// ── Orchestrator ────────────────────────────────────────────────────────────

// Orchestrator runs evaluations. It is stateless across requests apart from
// the circuit breakers guarding the optional branches, and is safe for
// concurrent use.
type Orchestrator struct {
	stt     stt.Provider
	pron    pronunciation.Analyzer
	grammar grammar.Reviewer

	retrier *resilience.Retrier
	metrics *observe.Metrics

	pronBreaker    *resilience.CircuitBreaker
	grammarBreaker *resilience.CircuitBreaker

	pronTimeout    time.Duration
	grammarTimeout time.Duration
}

// New creates an Orchestrator around the required STT provider.
func New(sttProvider stt.Provider, opts ...Option) (*Orchestrator, error) {
	if sttProvider == nil {
		return nil, errors.New("eval: stt provider must not be nil")
	}
	o := &Orchestrator{
		stt:            sttProvider,
		pronTimeout:    defaultPronunciationTimeout,
		grammarTimeout: defaultGrammarTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retrier == nil {
		o.retrier = resilience.NewRetrier(resilience.RetryConfig{})
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	// Breaker transitions for the critique stages surface as metrics so a
	// flapping upstream is visible without log archaeology.
	onStateChange := func(name string, from, to resilience.State) {
		o.metrics.RecordBreakerTransition(name, from.String(), to.String())
	}
	o.pronBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "pronunciation",
		OnStateChange: onStateChange,
	})
	o.grammarBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "grammar",
		OnStateChange: onStateChange,
	})
	return o, nil
}

// Evaluate runs the full pipeline for one request.
func (o *Orchestrator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	o.metrics.ActiveEvaluations.Add(ctx, 1)
	defer o.metrics.ActiveEvaluations.Add(ctx, -1)
	defer observe.RecordStage(ctx, o.metrics.EvaluationDuration, start)

	if err := validate(req); err != nil {
		o.metrics.RecordEvaluation(ctx, "validation")
		return nil, err
	}
	if req.Locale == "" {
		req.Locale = DefaultLocale
	}

	log := observe.Logger(ctx)

	// Speech recognition, the one required step.
	sttStart := time.Now()
	var transcript stt.Transcript
	err := o.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		transcript, err = o.stt.Transcribe(ctx, stt.Request{
			WAV:    req.Audio,
			Locale: req.Locale,
			Prompt: req.TargetText,
		})
		return err
	})
	observe.RecordStage(ctx, o.metrics.STTDuration, sttStart)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "stt", "stt")
		o.metrics.RecordEvaluation(ctx, "stt_failed")
		log.Error("speech recognition failed", "error", err)
		return nil, classifySTT(err)
	}
	o.metrics.RecordProviderRequest(ctx, "stt", "stt", "ok")

	// Alignment is pure; it cannot fail once a transcript exists.
	alignStart := time.Now()
	alignment := align.Score(req.TargetText, transcript.Text)
	observe.RecordStage(ctx, o.metrics.AlignDuration, alignStart)

	res := &Result{
		TargetText: req.TargetText,
		Transcript: transcript.Text,
		Alignment:  alignment,
	}

	// Optional critiques run concurrently. Each branch writes its own result
	// field and never returns an error.
	g, gctx := errgroup.WithContext(ctx)
	if o.pron != nil {
		g.Go(func() error {
			branchStart := time.Now()
			defer observe.RecordStage(gctx, o.metrics.PronunciationDuration, branchStart)
			res.Pronunciation = o.analyzePronunciation(gctx, req, transcript.Text)
			return nil
		})
	} else {
		res.Pronunciation = pronunciation.Verdict{Diagnostic: "analyzer not configured"}
	}
	if o.grammar != nil {
		g.Go(func() error {
			branchStart := time.Now()
			defer observe.RecordStage(gctx, o.metrics.GrammarDuration, branchStart)
			res.Grammar = o.reviewGrammar(gctx, req, transcript.Text)
			return nil
		})
	}
	_ = g.Wait()

	o.metrics.RecordEvaluation(ctx, "ok")
	return res, nil
}

// analyzePronunciation runs the optional pronunciation branch. Every failure
// path, normalization included, collapses into an unavailable verdict.
func (o *Orchestrator) analyzePronunciation(ctx context.Context, req Request, transcript string) pronunciation.Verdict {
	ctx, cancel := context.WithTimeout(ctx, o.pronTimeout)
	defer cancel()

	normalized, err := audio.Normalize(req.Audio)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "pronunciation", "normalize")
		observe.Logger(ctx).Warn("audio normalization failed, skipping pronunciation critique", "error", err)
		return pronunciation.Verdict{Diagnostic: fmt.Sprintf("normalize: %v", err)}
	}

	var verdict pronunciation.Verdict
	err = o.pronBreaker.Execute(func() error {
		verdict = o.pron.Analyze(ctx, pronunciation.AnalysisRequest{
			TargetText: req.TargetText,
			Transcript: transcript,
			Locale:     req.Locale,
			PCM:        normalized.PCM,
		})
		if !verdict.Available {
			return fmt.Errorf("critique unavailable: %s", verdict.Diagnostic)
		}
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		o.metrics.RecordProviderError(ctx, "pronunciation", "circuit_open")
		return pronunciation.Verdict{Diagnostic: "analyzer temporarily disabled after repeated failures"}
	}
	if err != nil {
		o.metrics.RecordProviderError(ctx, "pronunciation", "analyze")
		observe.Logger(ctx).Warn("pronunciation critique unavailable", "diagnostic", verdict.Diagnostic)
		return verdict
	}
	o.metrics.RecordProviderRequest(ctx, "pronunciation", "realtime", "ok")
	return verdict
}

// reviewGrammar runs the optional grammar branch. Failures degrade to the
// zero verdict.
func (o *Orchestrator) reviewGrammar(ctx context.Context, req Request, transcript string) grammar.Verdict {
	ctx, cancel := context.WithTimeout(ctx, o.grammarTimeout)
	defer cancel()

	var verdict grammar.Verdict
	err := o.grammarBreaker.Execute(func() error {
		return o.retrier.Do(ctx, func(ctx context.Context) error {
			var err error
			verdict, err = o.grammar.Review(ctx, grammar.Request{
				TargetText: req.TargetText,
				Transcript: transcript,
				Locale:     req.Locale,
			})
			return err
		})
	})
	if err != nil {
		o.metrics.RecordProviderError(ctx, "grammar", "review")
		observe.Logger(ctx).Warn("grammar review unavailable", "error", err)
		return grammar.Verdict{}
	}
	o.metrics.RecordProviderRequest(ctx, "grammar", "llm", "ok")
	return verdict
}

// validate checks the request shape, joining all problems into one
// ErrValidation.
func validate(req Request) error {
	var errs []error
	if strings.TrimSpace(req.TargetText) == "" {
		errs = append(errs, errors.New("targetText must not be empty"))
	}
	if len(req.Audio) == 0 {
		errs = append(errs, errors.New("audio must not be empty"))
	}
	if len(req.Audio) > MaxAudioBytes {
		errs = append(errs, fmt.Errorf("audio exceeds the %d byte ceiling", MaxAudioBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}
	return nil
}

// classifySTT maps a failed required STT call onto the sentinel taxonomy.
func classifySTT(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: speech recognition: %s", ErrTimeout, err)
	}
	var se *resilience.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: speech recognition: %s", ErrUpstream, err)
	}
	return fmt.Errorf("%w: speech recognition: %s", ErrUnavailable, err)
}
