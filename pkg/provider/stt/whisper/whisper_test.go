package whisper_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/sorivox/internal/resilience"
	"github.com/MrWong99/sorivox/pkg/provider/stt"
	"github.com/MrWong99/sorivox/pkg/provider/stt/whisper"
)

func TestNewRequiresServerURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("New accepted an empty server URL")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotLanguage, gotPrompt string
	var gotFile []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFile, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" 안녕하세요 "}`)
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wav := []byte("RIFFfakewavpayload")
	tr, err := p.Transcribe(t.Context(), stt.Request{
		WAV:    wav,
		Locale: "ko-KR",
		Prompt: "안녕하세요",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotPath != "/inference" {
		t.Errorf("path = %q; want /inference", gotPath)
	}
	if gotLanguage != "ko" {
		t.Errorf("language field = %q; want ko", gotLanguage)
	}
	if gotPrompt != "안녕하세요" {
		t.Errorf("prompt field = %q; want the target sentence", gotPrompt)
	}
	if string(gotFile) != string(wav) {
		t.Error("uploaded file does not match the request WAV")
	}
	if tr.Text != "안녕하세요" {
		t.Errorf("Text = %q; want trimmed transcript", tr.Text)
	}
	if tr.Language != "ko" {
		t.Errorf("Language = %q; want ko", tr.Language)
	}
}

func TestTranscribeServerErrorCarriesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(t.Context(), stt.Request{WAV: []byte("RIFF....")})
	var se *resilience.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *resilience.StatusError", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d; want 503", se.StatusCode)
	}
	if se.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v; want 2s", se.RetryAfter)
	}
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(t.Context(), stt.Request{}); err == nil {
		t.Fatal("Transcribe accepted empty audio")
	}
}
