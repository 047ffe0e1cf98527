package realtime_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/MrWong99/sorivox/pkg/provider/pronunciation"
	"github.com/MrWong99/sorivox/pkg/provider/pronunciation/realtime"
)

// ── Helpers ─────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startAnalyzerServer launches a test WebSocket server. The handler receives
// the accepted conn. The server is automatically closed when the test
// finishes.
func startAnalyzerServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// drainUntil reads client messages until one with the given type arrives,
// returning all collected messages of type input_audio_buffer.append along
// the way.
func drainUntil(t *testing.T, conn *websocket.Conn, wantType string) (appends []string) {
	t.Helper()
	for {
		var msg map[string]any
		readJSON(t, conn, &msg)
		switch msg["type"] {
		case "input_audio_buffer.append":
			appends = append(appends, msg["audio"].(string))
		case wantType:
			return appends
		}
	}
}

func testRequest() pronunciation.AnalysisRequest {
	return pronunciation.AnalysisRequest{
		TargetText: "안녕하세요",
		Transcript: "안녕하세요",
		Locale:     "ko-KR",
		PCM:        make([]byte, 10_000),
	}
}

// serveHappyPath acks the session, drains audio, and replies with deltas
// carrying answer split in two, followed by response.done.
func serveHappyPath(t *testing.T, answer string) *httptest.Server {
	return startAnalyzerServer(t, func(conn *websocket.Conn, r *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		if update["type"] != "session.update" {
			t.Errorf("first client message type = %v; want session.update", update["type"])
		}
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		writeJSON(t, conn, map[string]any{"type": "session.updated"})

		drainUntil(t, conn, "input_audio_buffer.commit")
		var create map[string]any
		readJSON(t, conn, &create)
		if create["type"] != "response.create" {
			t.Errorf("after commit got %v; want response.create", create["type"])
		}

		half := len(answer) / 2
		for half > 0 && !utf8.RuneStart(answer[half]) {
			half--
		}
		writeJSON(t, conn, map[string]any{"type": "response.text.delta", "delta": answer[:half]})
		writeJSON(t, conn, map[string]any{"type": "response.text.delta", "delta": answer[half:]})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
	})
}

// ── Tests ───────────────────────────────────────────────────────────────────

func TestAnalyzeHappyPath(t *testing.T) {
	t.Parallel()
	srv := serveHappyPath(t, `{
		"weakPronunciation":[{"token":"ㅎ","reason":"거의 들리지 않아요","tip":"숨을 더 내쉬면서 발음하세요"}],
		"strongPronunciation":[{"token":"ㅅ","reason":"또렷하게 들렸어요"}],
		"shortComment":"좋아요!"}`)

	a := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	v := a.Analyze(context.Background(), testRequest())

	if !v.Available {
		t.Fatalf("verdict unavailable: %s", v.Diagnostic)
	}
	wantWeak := pronunciation.WeakItem{Token: "ㅎ", Reason: "거의 들리지 않아요", Tip: "숨을 더 내쉬면서 발음하세요"}
	if len(v.WeakItems) != 1 || v.WeakItems[0] != wantWeak {
		t.Errorf("WeakItems = %+v; want [%+v]", v.WeakItems, wantWeak)
	}
	wantStrong := pronunciation.StrongItem{Token: "ㅅ", Reason: "또렷하게 들렸어요"}
	if len(v.StrongItems) != 1 || v.StrongItems[0] != wantStrong {
		t.Errorf("StrongItems = %+v; want [%+v]", v.StrongItems, wantStrong)
	}
	if v.ShortComment != "좋아요!" {
		t.Errorf("ShortComment = %q", v.ShortComment)
	}
}

func TestAnalyzeFencedCritique(t *testing.T) {
	t.Parallel()
	srv := serveHappyPath(t, "```json\n{\"shortComment\": \"clear vowels\"}\n```")

	a := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	v := a.Analyze(context.Background(), testRequest())

	if !v.Available {
		t.Fatalf("verdict unavailable: %s", v.Diagnostic)
	}
	if v.ShortComment != "clear vowels" {
		t.Errorf("ShortComment = %q", v.ShortComment)
	}
}

func TestAnalyzeStreamsAudioInFrames(t *testing.T) {
	t.Parallel()

	framesCh := make(chan []string, 1)
	srv := startAnalyzerServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q; want Bearer key", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q; want realtime=v1", got)
		}

		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{"type": "session.updated"})

		framesCh <- drainUntil(t, conn, "input_audio_buffer.commit")

		var create map[string]any
		readJSON(t, conn, &create)
		writeJSON(t, conn, map[string]any{"type": "response.text.delta", "delta": `{"shortComment":"ok"}`})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
	})

	a := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	req := testRequest()
	req.PCM = make([]byte, 10_000) // 4096 + 4096 + 1808
	v := a.Analyze(context.Background(), req)
	if !v.Available {
		t.Fatalf("verdict unavailable: %s", v.Diagnostic)
	}

	frames := <-framesCh
	if len(frames) != 3 {
		t.Fatalf("got %d append frames; want 3", len(frames))
	}
	var total int
	for i, f := range frames {
		raw, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			t.Fatalf("frame %d is not base64: %v", i, err)
		}
		total += len(raw)
		if i < 2 && len(raw) != 4096 {
			t.Errorf("frame %d size = %d; want 4096", i, len(raw))
		}
	}
	if total != len(req.PCM) {
		t.Errorf("total streamed bytes = %d; want %d", total, len(req.PCM))
	}
}

func TestAnalyzeServerErrorEvent(t *testing.T) {
	t.Parallel()
	srv := startAnalyzerServer(t, func(conn *websocket.Conn, r *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "code": "rate_limit_exceeded", "message": "slow down"},
		})
	})

	a := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	v := a.Analyze(context.Background(), testRequest())

	if v.Available {
		t.Fatal("verdict available despite server error")
	}
	if !strings.Contains(v.Diagnostic, "rate_limit_exceeded") {
		t.Errorf("Diagnostic = %q; want rate limit detail", v.Diagnostic)
	}
}

func TestAnalyzeUnparseableCritiqueKeepsRawText(t *testing.T) {
	t.Parallel()
	srv := serveHappyPath(t, "the learner did well overall")

	a := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	v := a.Analyze(context.Background(), testRequest())

	if v.Available {
		t.Fatal("verdict available despite unparseable critique")
	}
	if !strings.Contains(v.Diagnostic, "the learner did well overall") {
		t.Errorf("Diagnostic = %q; want raw model text preserved", v.Diagnostic)
	}
}

func TestAnalyzeSchemaViolation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		answer string
	}{
		{"weak items as string", `{"weakPronunciation": "ㅎ", "shortComment": "ok"}`},
		{"weak items as flat strings", `{"weakPronunciation": ["ㅎ"], "shortComment": "ok"}`},
		{"weak item missing token", `{"weakPronunciation": [{"reason": "unclear"}], "shortComment": "ok"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := serveHappyPath(t, tc.answer)

			a := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
			v := a.Analyze(context.Background(), testRequest())

			if v.Available {
				t.Fatal("verdict available despite schema violation")
			}
			if !strings.Contains(v.Diagnostic, "schema") {
				t.Errorf("Diagnostic = %q; want schema validation detail", v.Diagnostic)
			}
		})
	}
}

func TestAnalyzeEarlyCloseBeforeResponse(t *testing.T) {
	t.Parallel()
	srv := startAnalyzerServer(t, func(conn *websocket.Conn, r *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{"type": "session.updated"})
		drainUntil(t, conn, "input_audio_buffer.commit")
		// Close without ever sending a response.
		conn.Close(websocket.StatusInternalError, "boom")
	})

	a := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	v := a.Analyze(context.Background(), testRequest())

	if v.Available {
		t.Fatal("verdict available despite early close")
	}
	if v.Diagnostic == "" {
		t.Error("Diagnostic empty; want closure detail")
	}
}

func TestAnalyzeConnectFailure(t *testing.T) {
	t.Parallel()
	a := realtime.New("key",
		realtime.WithBaseURL("ws://127.0.0.1:1"),
		realtime.WithConnectTimeout(time.Second),
	)
	v := a.Analyze(context.Background(), testRequest())

	if v.Available {
		t.Fatal("verdict available despite connect failure")
	}
	if !strings.Contains(v.Diagnostic, "connect") {
		t.Errorf("Diagnostic = %q; want connect detail", v.Diagnostic)
	}
}

func TestAnalyzeResponseTimeout(t *testing.T) {
	t.Parallel()
	srv := startAnalyzerServer(t, func(conn *websocket.Conn, r *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{"type": "session.updated"})
		drainUntil(t, conn, "input_audio_buffer.commit")
		var create map[string]any
		readJSON(t, conn, &create)
		// Never answer; hold the connection open past the client deadline.
		<-conn.CloseRead(context.Background()).Done()
	})

	a := realtime.New("key",
		realtime.WithBaseURL(wsURL(srv)),
		realtime.WithResponseTimeout(200*time.Millisecond),
	)
	v := a.Analyze(context.Background(), testRequest())

	if v.Available {
		t.Fatal("verdict available despite response timeout")
	}
	if !strings.Contains(v.Diagnostic, "timeout") {
		t.Errorf("Diagnostic = %q; want timeout detail", v.Diagnostic)
	}
}

// startTeardownObserver launches a test WebSocket server that, after handler
// returns, keeps reading until the client ends the connection, then reports
// the termination on closes: the close-frame status code, or -1 when the
// connection ended without one. At most one event is ever sent per
// connection, so a second receive means the client dialed or closed twice.
func startTeardownObserver(t *testing.T, closes chan<- websocket.StatusCode, handler func(t *testing.T, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(t, conn)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				closes <- websocket.CloseStatus(err)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeTearsDownExactlyOnce(t *testing.T) {
	t.Parallel()

	scenarios := []struct {
		name       string
		handler    func(t *testing.T, conn *websocket.Conn)
		wantNormal bool
	}{
		{
			name: "success",
			handler: func(t *testing.T, conn *websocket.Conn) {
				var update map[string]any
				readJSON(t, conn, &update)
				writeJSON(t, conn, map[string]any{"type": "session.updated"})
				drainUntil(t, conn, "input_audio_buffer.commit")
				var create map[string]any
				readJSON(t, conn, &create)
				writeJSON(t, conn, map[string]any{"type": "response.text.delta", "delta": `{"shortComment":"ok"}`})
				writeJSON(t, conn, map[string]any{"type": "response.done"})
			},
			wantNormal: true,
		},
		{
			name: "server error",
			handler: func(t *testing.T, conn *websocket.Conn) {
				var update map[string]any
				readJSON(t, conn, &update)
				writeJSON(t, conn, map[string]any{
					"type":  "error",
					"error": map[string]any{"type": "server_error", "message": "boom"},
				})
			},
			wantNormal: true,
		},
		{
			name: "response timeout",
			handler: func(t *testing.T, conn *websocket.Conn) {
				var update map[string]any
				readJSON(t, conn, &update)
				writeJSON(t, conn, map[string]any{"type": "session.updated"})
				drainUntil(t, conn, "input_audio_buffer.commit")
				var create map[string]any
				readJSON(t, conn, &create)
				// Never answer; the observer holds the connection open
				// until the client gives up.
			},
		},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()
			closes := make(chan websocket.StatusCode, 4)
			srv := startTeardownObserver(t, closes, sc.handler)

			a := realtime.New("key",
				realtime.WithBaseURL(wsURL(srv)),
				realtime.WithResponseTimeout(300*time.Millisecond),
			)
			a.Analyze(context.Background(), testRequest())

			select {
			case status := <-closes:
				if sc.wantNormal && status != websocket.StatusNormalClosure {
					t.Errorf("close status = %v; want %v", status, websocket.StatusNormalClosure)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("client never ended the connection")
			}
			select {
			case status := <-closes:
				t.Fatalf("connection ended a second time (status %v)", status)
			case <-time.After(200 * time.Millisecond):
			}
		})
	}
}

func TestAnalyzeEmptyAudio(t *testing.T) {
	t.Parallel()
	a := realtime.New("key")
	v := a.Analyze(context.Background(), pronunciation.AnalysisRequest{TargetText: "안녕하세요"})
	if v.Available {
		t.Fatal("verdict available despite empty audio")
	}
}
