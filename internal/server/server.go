// Package server exposes the Sorivox evaluation pipeline over HTTP.
//
// The API surface is a single evaluation endpoint plus the usual operational
// routes:
//
//   - POST /v1/evaluations: multipart form with targetText, locale, and an
//     audio file; returns the evaluation result as JSON.
//   - /healthz, /readyz: via the health package.
//   - /metrics: Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/sorivox/internal/eval"
	"github.com/MrWong99/sorivox/internal/observe"
	"github.com/MrWong99/sorivox/pkg/provider/grammar"
	"github.com/MrWong99/sorivox/pkg/provider/pronunciation"
)

// formMemoryLimit is how much of the multipart body is held in memory before
// spilling to disk.
const formMemoryLimit = 8 << 20

// Evaluator runs one evaluation. Satisfied by *eval.Orchestrator.
type Evaluator interface {
	Evaluate(ctx context.Context, req eval.Request) (*eval.Result, error)
}

// Server handles the evaluation API. Safe for concurrent use.
type Server struct {
	eval          Evaluator
	maxAudioBytes int64
	defaultLocale string
}

// Option configures a [Server].
type Option func(*Server)

// WithMaxAudioBytes overrides the upload size ceiling.
func WithMaxAudioBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxAudioBytes = n
		}
	}
}

// WithDefaultLocale overrides the locale assumed when a request omits one.
func WithDefaultLocale(locale string) Option {
	return func(s *Server) {
		if locale != "" {
			s.defaultLocale = locale
		}
	}
}

// New creates a Server around an evaluator.
func New(evaluator Evaluator, opts ...Option) (*Server, error) {
	if evaluator == nil {
		return nil, errors.New("server: evaluator must not be nil")
	}
	s := &Server{
		eval:          evaluator,
		maxAudioBytes: eval.MaxAudioBytes,
		defaultLocale: eval.DefaultLocale,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds the evaluation route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluations", s.handleEvaluate)
}

// ── Request handling ────────────────────────────────────────────────────────

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	// Cap the whole body; the form fields are small so the audio ceiling
	// plus a little slack bounds everything.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxAudioBytes+formMemoryLimit)

	req, err := s.parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	res, err := s.eval.Evaluate(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, eval.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	default:
		// Every non-validation failure out of the orchestrator is a failed
		// required STT step.
		log.Error("evaluation failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "STT failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toResponse(res))
}

// parseRequest extracts the evaluation request from the multipart form.
func (s *Server) parseRequest(r *http.Request) (eval.Request, error) {
	if err := r.ParseMultipartForm(formMemoryLimit); err != nil {
		return eval.Request{}, errors.New("body must be a multipart form with targetText and audio")
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req := eval.Request{
		TargetText: r.FormValue("targetText"),
		Locale:     r.FormValue("locale"),
	}
	if req.Locale == "" {
		req.Locale = s.defaultLocale
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		return eval.Request{}, errors.New("audio file part is required")
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, s.maxAudioBytes+1))
	if err != nil {
		return eval.Request{}, errors.New("reading audio part failed")
	}
	req.Audio = audio
	return req, nil
}

// ── Response envelope ───────────────────────────────────────────────────────

type evaluationResponse struct {
	OK                  bool   `json:"ok"`
	TargetText          string `json:"targetText"`
	TranscriptText      string `json:"transcriptText"`
	TextAccuracyPercent int    `json:"textAccuracyPercent"`
	MistakePercent      int    `json:"mistakePercent"`

	Metrics       metricsBody       `json:"metrics"`
	Diff          diffBody          `json:"diff"`
	Pronunciation pronunciationBody `json:"pronunciation"`
	Grammar       grammarBody       `json:"grammar"`
}

type metricsBody struct {
	AccuracyPercent int     `json:"accuracyPercent"`
	WrongPercent    int     `json:"wrongPercent"`
	CER             float64 `json:"cer"`
}

type diffBody struct {
	Units      []diffUnit `json:"units"`
	WrongUnits []string   `json:"wrongUnits"`
}

type diffUnit struct {
	Unit   string `json:"unit"`
	Status string `json:"status"`
	Heard  string `json:"heard,omitempty"`
}

type pronunciationBody struct {
	Available           bool             `json:"available"`
	WeakPronunciation   []weakItemBody   `json:"weakPronunciation"`
	StrongPronunciation []strongItemBody `json:"strongPronunciation"`
	ShortComment        string           `json:"shortComment"`
}

type weakItemBody struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
	Tip    string `json:"tip"`
}

type strongItemBody struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

type grammarBody struct {
	Mistakes     []mistakeBody `json:"mistakes"`
	TutorComment string        `json:"tutorComment"`
}

type mistakeBody struct {
	Said    string `json:"said"`
	Correct string `json:"correct"`
	Reason  string `json:"reason"`
}

// toResponse maps an evaluation result onto the wire envelope. Slices are
// always non-nil so clients see [] rather than null.
func toResponse(res *eval.Result) evaluationResponse {
	units := make([]diffUnit, 0, len(res.Alignment.Units))
	for _, u := range res.Alignment.Units {
		units = append(units, diffUnit{
			Unit:   u.Char,
			Status: string(u.Status),
			Heard:  u.Heard,
		})
	}

	return evaluationResponse{
		OK:                  true,
		TargetText:          res.TargetText,
		TranscriptText:      res.Transcript,
		TextAccuracyPercent: res.Alignment.AccuracyPercent(),
		MistakePercent:      res.Alignment.MistakePercent(),
		Metrics: metricsBody{
			AccuracyPercent: res.Alignment.AccuracyPercent(),
			WrongPercent:    res.Alignment.MistakePercent(),
			CER:             res.Alignment.CER,
		},
		Diff: diffBody{
			Units:      units,
			WrongUnits: orEmpty(res.Alignment.Trouble),
		},
		Pronunciation: pronunciationBody{
			Available:           res.Pronunciation.Available,
			WeakPronunciation:   toWeakItems(res.Pronunciation.WeakItems),
			StrongPronunciation: toStrongItems(res.Pronunciation.StrongItems),
			ShortComment:        res.Pronunciation.ShortComment,
		},
		Grammar: grammarBody{
			Mistakes:     toMistakes(res.Grammar.Mistakes),
			TutorComment: res.Grammar.TutorComment,
		},
	}
}

func toWeakItems(items []pronunciation.WeakItem) []weakItemBody {
	out := make([]weakItemBody, 0, len(items))
	for _, it := range items {
		out = append(out, weakItemBody{Token: it.Token, Reason: it.Reason, Tip: it.Tip})
	}
	return out
}

func toStrongItems(items []pronunciation.StrongItem) []strongItemBody {
	out := make([]strongItemBody, 0, len(items))
	for _, it := range items {
		out = append(out, strongItemBody{Token: it.Token, Reason: it.Reason})
	}
	return out
}

func toMistakes(mistakes []grammar.Mistake) []mistakeBody {
	out := make([]mistakeBody, 0, len(mistakes))
	for _, m := range mistakes {
		out = append(out, mistakeBody{Said: m.Said, Correct: m.Correct, Reason: m.Reason})
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg, Details: details})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}
