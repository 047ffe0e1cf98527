// Package realtime implements the pronunciation.Analyzer interface over the
// OpenAI Realtime API.
//
// Each analysis is a single-use WebSocket session that walks a fixed state
// machine: connect, configure, stream the audio, wait for the model's JSON
// critique, tear down. Audio is transmitted as base64-encoded PCM16 chunks
// according to the Realtime API protocol. Every failure mode collapses into
// an unavailable Verdict; the caller never sees an error.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MrWong99/sorivox/pkg/jsonx"
	"github.com/MrWong99/sorivox/pkg/provider/pronunciation"
)

// Compile-time assertion that Analyzer satisfies the pronunciation interface.
var _ pronunciation.Analyzer = (*Analyzer)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// frameSize is the PCM chunk size per append event. 4096 bytes is 128 ms
	// of canonical audio, small enough that the server starts processing
	// while later frames are still in flight.
	frameSize = 4096

	defaultConnectTimeout  = 10 * time.Second
	defaultResponseTimeout = 30 * time.Second
)

// verdictSchema validates the model's critique before it is trusted.
var verdictSchema = jsonschema.MustCompileString("pronunciation-verdict.json", `{
	"type": "object",
	"properties": {
		"weakPronunciation": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"token": {"type": "string"},
					"reason": {"type": "string"},
					"tip": {"type": "string"}
				},
				"required": ["token"]
			}
		},
		"strongPronunciation": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"token": {"type": "string"},
					"reason": {"type": "string"}
				},
				"required": ["token"]
			}
		},
		"shortComment": {"type": "string"}
	},
	"required": ["shortComment"]
}`)

// ── Options ─────────────────────────────────────────────────────────────────

// Option is a functional option for configuring an Analyzer.
type Option func(*Analyzer)

// WithModel sets the Realtime model used for sessions.
func WithModel(model string) Option {
	return func(a *Analyzer) { a.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(a *Analyzer) { a.baseURL = url }
}

// WithConnectTimeout overrides the dial-and-configure deadline.
func WithConnectTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.connectTimeout = d }
}

// WithResponseTimeout overrides how long a session waits for the critique
// after the audio has been committed.
func WithResponseTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.responseTimeout = d }
}

// ── Analyzer ────────────────────────────────────────────────────────────────

// Analyzer implements pronunciation.Analyzer for the OpenAI Realtime API.
// It is stateless; each Analyze call runs its own session.
type Analyzer struct {
	apiKey          string
	model           string
	baseURL         string
	connectTimeout  time.Duration
	responseTimeout time.Duration
}

// New creates a Realtime Analyzer with the given API key and options.
func New(apiKey string, opts ...Option) *Analyzer {
	a := &Analyzer{
		apiKey:          apiKey,
		model:           defaultModel,
		baseURL:         defaultBaseURL,
		connectTimeout:  defaultConnectTimeout,
		responseTimeout: defaultResponseTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze runs one critique session. The returned Verdict has Available set
// to false on any failure, with the reason in Diagnostic.
func (a *Analyzer) Analyze(ctx context.Context, req pronunciation.AnalysisRequest) pronunciation.Verdict {
	if len(req.PCM) == 0 {
		return unavailable("no audio to analyze")
	}
	s := &session{analyzer: a, req: req, state: stateConnecting}
	defer s.teardown()
	return s.run(ctx)
}

// ── State machine ───────────────────────────────────────────────────────────

type state int

const (
	stateConnecting state = iota
	stateAwaitingReady
	stateStreaming
	stateAwaitingResponse
	stateSucceeded
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAwaitingReady:
		return "awaiting-ready"
	case stateStreaming:
		return "streaming"
	case stateAwaitingResponse:
		return "awaiting-response"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// legalTransitions holds the forward edges of the session state machine.
// Every state may additionally transition to stateFailed.
var legalTransitions = map[state]state{
	stateConnecting:       stateAwaitingReady,
	stateAwaitingReady:    stateStreaming,
	stateStreaming:        stateAwaitingResponse,
	stateAwaitingResponse: stateSucceeded,
}

// session is one single-use analysis run. All fields are confined to the
// goroutine executing run; only teardown may be reached from a defer after a
// panic, hence the sync.Once.
type session struct {
	analyzer *Analyzer
	req      pronunciation.AnalysisRequest

	conn   *websocket.Conn
	cancel context.CancelFunc
	state  state

	closeOnce sync.Once
}

// advance moves the machine to next, or to stateFailed when the edge is not
// in the transition table.
func (s *session) advance(next state) error {
	if next == stateFailed {
		s.state = stateFailed
		return nil
	}
	if legalTransitions[s.state] != next {
		from := s.state
		s.state = stateFailed
		return fmt.Errorf("illegal transition %s -> %s", from, next)
	}
	s.state = next
	return nil
}

func (s *session) run(ctx context.Context) pronunciation.Verdict {
	sessCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Connecting.
	dialCtx, dialDone := context.WithTimeout(sessCtx, s.analyzer.connectTimeout)
	defer dialDone()

	wsURL := fmt.Sprintf("%s?model=%s", s.analyzer.baseURL, s.analyzer.model)
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + s.analyzer.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return s.fail(fmt.Sprintf("connect: %v", err))
	}
	s.conn = conn
	// Critique payloads are small but the model may pad them with prose.
	conn.SetReadLimit(1 << 20)

	if err := s.advance(stateAwaitingReady); err != nil {
		return s.fail(err.Error())
	}

	// AwaitingReady: configure the session, then wait for the ack.
	update := sessionUpdateMessage{Type: "session.update"}
	update.Session.Modalities = []string{"text"}
	update.Session.Instructions = instructions(s.req)
	update.Session.InputAudioFormat = "pcm16"
	if err := s.writeJSON(dialCtx, update); err != nil {
		return s.fail(fmt.Sprintf("session update: %v", err))
	}
	if verdict, ok := s.awaitEvent(dialCtx, "session.updated"); !ok {
		return verdict
	}

	if err := s.advance(stateStreaming); err != nil {
		return s.fail(err.Error())
	}

	// Streaming: append the audio in fixed-size frames, commit, request the
	// response.
	streamCtx, streamDone := context.WithTimeout(sessCtx, s.analyzer.responseTimeout)
	defer streamDone()

	pcm := s.req.PCM
	for off := 0; off < len(pcm); off += frameSize {
		end := off + frameSize
		if end > len(pcm) {
			end = len(pcm)
		}
		msg := appendAudioMessage{
			Type:  "input_audio_buffer.append",
			Audio: base64.StdEncoding.EncodeToString(pcm[off:end]),
		}
		if err := s.writeJSON(streamCtx, msg); err != nil {
			return s.fail(fmt.Sprintf("append audio: %v", err))
		}
	}
	if err := s.writeJSON(streamCtx, typeOnlyMessage{Type: "input_audio_buffer.commit"}); err != nil {
		return s.fail(fmt.Sprintf("commit audio: %v", err))
	}
	if err := s.writeJSON(streamCtx, typeOnlyMessage{Type: "response.create"}); err != nil {
		return s.fail(fmt.Sprintf("request response: %v", err))
	}

	if err := s.advance(stateAwaitingResponse); err != nil {
		return s.fail(err.Error())
	}

	// AwaitingResponse: accumulate text deltas until response.done. The
	// response timer from the streaming phase keeps running.
	var text strings.Builder
	for {
		evt, err := s.readEvent(streamCtx)
		if err != nil {
			if streamCtx.Err() != nil {
				return s.fail("response timeout")
			}
			return s.fail(fmt.Sprintf("connection closed before response: %v", err))
		}
		switch evt.Type {
		case "response.text.delta", "response.audio_transcript.delta":
			text.WriteString(evt.Delta)
		case "response.done":
			return s.finish(text.String())
		case "error":
			return s.fail("server error: " + evt.errorMessage())
		}
	}
}

// finish parses the accumulated critique text and maps it to a Verdict.
func (s *session) finish(raw string) pronunciation.Verdict {
	data, err := jsonx.ExtractObject(raw)
	if err != nil {
		return s.fail(fmt.Sprintf("unparseable critique: %q", raw))
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return s.fail(fmt.Sprintf("decode critique: %v", err))
	}
	if err := verdictSchema.Validate(payload); err != nil {
		return s.fail(fmt.Sprintf("critique failed schema validation: %v (raw %q)", err, raw))
	}

	var parsed struct {
		Weak []struct {
			Token  string `json:"token"`
			Reason string `json:"reason"`
			Tip    string `json:"tip"`
		} `json:"weakPronunciation"`
		Strong []struct {
			Token  string `json:"token"`
			Reason string `json:"reason"`
		} `json:"strongPronunciation"`
		Comment string `json:"shortComment"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return s.fail(fmt.Sprintf("map critique: %v", err))
	}

	if err := s.advance(stateSucceeded); err != nil {
		return s.fail(err.Error())
	}
	verdict := pronunciation.Verdict{
		Available:    true,
		ShortComment: strings.TrimSpace(parsed.Comment),
	}
	for _, w := range parsed.Weak {
		verdict.WeakItems = append(verdict.WeakItems, pronunciation.WeakItem{
			Token:  w.Token,
			Reason: w.Reason,
			Tip:    w.Tip,
		})
	}
	for _, st := range parsed.Strong {
		verdict.StrongItems = append(verdict.StrongItems, pronunciation.StrongItem{
			Token:  st.Token,
			Reason: st.Reason,
		})
	}
	return verdict
}

// fail marks the session failed and returns the unavailable verdict.
func (s *session) fail(diagnostic string) pronunciation.Verdict {
	s.state = stateFailed
	return unavailable(diagnostic)
}

func unavailable(diagnostic string) pronunciation.Verdict {
	return pronunciation.Verdict{Available: false, Diagnostic: diagnostic}
}

// awaitEvent reads events until one of the wanted type arrives. Error events
// and closures fail the session; other event types (session.created,
// rate-limit updates) are skipped.
func (s *session) awaitEvent(ctx context.Context, wantType string) (pronunciation.Verdict, bool) {
	for {
		evt, err := s.readEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.fail(fmt.Sprintf("timeout waiting for %s", wantType)), false
			}
			return s.fail(fmt.Sprintf("connection closed waiting for %s: %v", wantType, err)), false
		}
		switch evt.Type {
		case wantType:
			return pronunciation.Verdict{}, true
		case "error":
			return s.fail("server error: " + evt.errorMessage()), false
		}
	}
}

// teardown closes the socket and cancels timers exactly once, regardless of
// which path terminated the session.
func (s *session) teardown() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			s.conn.Close(websocket.StatusNormalClosure, "analysis complete")
		}
	})
}

// ── Protocol messages ───────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string `json:"type"`
	Session struct {
		Modalities       []string `json:"modalities,omitempty"`
		Instructions     string   `json:"instructions,omitempty"`
		InputAudioFormat string   `json:"input_audio_format,omitempty"`
	} `json:"session"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type typeOnlyMessage struct {
	Type string `json:"type"`
}

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type  string             `json:"type"`
	Delta string             `json:"delta,omitempty"`
	Error *serverErrorDetail `json:"error,omitempty"`
}

func (e *serverEvent) errorMessage() string {
	if e.Error == nil || e.Error.Message == "" {
		return "unknown error"
	}
	if e.Error.Code != "" {
		return e.Error.Code + ": " + e.Error.Message
	}
	return e.Error.Message
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// readEvent reads and decodes the next server event. Undecodable frames are
// skipped rather than treated as fatal.
func (s *session) readEvent(ctx context.Context) (*serverEvent, error) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		return &evt, nil
	}
}

// instructions renders the task prompt carried in session.update.
func instructions(req pronunciation.AnalysisRequest) string {
	var b strings.Builder
	b.WriteString("You are a pronunciation coach. Listen to the learner's audio.\n")
	fmt.Fprintf(&b, "Language: %s\n", req.Locale)
	fmt.Fprintf(&b, "The learner was asked to say: %q\n", req.TargetText)
	if req.Transcript != "" {
		fmt.Fprintf(&b, "Speech recognition heard: %q\n", req.Transcript)
	}
	b.WriteString(`Judge only how the sounds were produced, not grammar or word choice.
Respond with JSON only, using exactly this shape:
{"weakPronunciation": [{"token": "...", "reason": "...", "tip": "..."}],
 "strongPronunciation": [{"token": "...", "reason": "..."}],
 "shortComment": "..."}
Each token is one specific sound or syllable; reason says what happened, tip
says how to produce it correctly. Keep shortComment to one or two sentences.`)
	return b.String()
}
