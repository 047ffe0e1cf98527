package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/sorivox/pkg/provider/grammar"
	"github.com/MrWong99/sorivox/pkg/provider/grammar/llm"
)

// stubCompleter returns a canned answer and records the prompts it saw.
type stubCompleter struct {
	answer string
	err    error

	system string
	user   string
}

func (s *stubCompleter) Complete(_ context.Context, system, user string) (string, error) {
	s.system = system
	s.user = user
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func TestReviewParsesCleanJSON(t *testing.T) {
	t.Parallel()
	stub := &stubCompleter{answer: `{"mistakes":[{"said":"먹어요","correct":"먹었어요","reason":"과거형이 아니라 현재형을 썼어요"}],"tutorComment":"거의 완벽해요!"}`}
	r := llm.NewWithCompleter(stub)

	v, err := r.Review(context.Background(), grammar.Request{
		TargetText: "밥 먹었어요?",
		Transcript: "밥 먹어요",
		Locale:     "ko-KR",
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(v.Mistakes) != 1 {
		t.Fatalf("Mistakes = %v; want one entry", v.Mistakes)
	}
	want := grammar.Mistake{Said: "먹어요", Correct: "먹었어요", Reason: "과거형이 아니라 현재형을 썼어요"}
	if v.Mistakes[0] != want {
		t.Errorf("Mistakes[0] = %+v; want %+v", v.Mistakes[0], want)
	}
	if v.TutorComment != "거의 완벽해요!" {
		t.Errorf("TutorComment = %q", v.TutorComment)
	}

	if !strings.Contains(stub.user, "밥 먹었어요?") || !strings.Contains(stub.user, "밥 먹어요") {
		t.Errorf("user prompt missing target or transcript: %q", stub.user)
	}
	if !strings.Contains(stub.user, "ko-KR") {
		t.Errorf("user prompt missing locale: %q", stub.user)
	}
}

func TestReviewParsesFencedJSON(t *testing.T) {
	t.Parallel()
	stub := &stubCompleter{answer: "Here is my review:\n```json\n{\"mistakes\": [], \"tutorComment\": \"Great job!\"}\n```"}
	r := llm.NewWithCompleter(stub)

	v, err := r.Review(context.Background(), grammar.Request{TargetText: "안녕하세요", Transcript: "안녕하세요"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(v.Mistakes) != 0 {
		t.Errorf("Mistakes = %v; want empty", v.Mistakes)
	}
	if v.TutorComment != "Great job!" {
		t.Errorf("TutorComment = %q", v.TutorComment)
	}
}

func TestReviewRejectsNonJSONAnswer(t *testing.T) {
	t.Parallel()
	stub := &stubCompleter{answer: "The sentence looks fine to me."}
	r := llm.NewWithCompleter(stub)

	if _, err := r.Review(context.Background(), grammar.Request{TargetText: "안녕하세요", Transcript: "안녕"}); err == nil {
		t.Fatal("Review accepted a prose answer")
	}
}

func TestReviewRejectsWrongShape(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		answer string
	}{
		{"mistakes as string", `{"mistakes": "none", "tutorComment": "ok"}`},
		{"mistakes as flat strings", `{"mistakes": ["wrong tense"], "tutorComment": "ok"}`},
		{"mistake missing correction", `{"mistakes": [{"said": "먹어요"}], "tutorComment": "ok"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := llm.NewWithCompleter(&stubCompleter{answer: tc.answer})
			if _, err := r.Review(context.Background(), grammar.Request{TargetText: "안녕하세요", Transcript: "안녕"}); err == nil {
				t.Fatal("Review accepted a payload that violates the schema")
			}
		})
	}
}

func TestReviewPropagatesCompleterError(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("rate limited")
	r := llm.NewWithCompleter(&stubCompleter{err: wantErr})

	if _, err := r.Review(context.Background(), grammar.Request{TargetText: "안녕하세요"}); !errors.Is(err, wantErr) {
		t.Errorf("Review returned %v; want wrapped completer error", err)
	}
}

func TestReviewRequiresTargetText(t *testing.T) {
	t.Parallel()
	r := llm.NewWithCompleter(&stubCompleter{answer: `{"tutorComment":"ok"}`})
	if _, err := r.Review(context.Background(), grammar.Request{}); err == nil {
		t.Fatal("Review accepted an empty target")
	}
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()
	if _, err := llm.New("", "gpt-4o-mini"); err == nil {
		t.Error("New accepted an empty provider name")
	}
	if _, err := llm.New("openai", ""); err == nil {
		t.Error("New accepted an empty model")
	}
	if _, err := llm.New("definitely-not-a-provider", "m"); err == nil {
		t.Error("New accepted an unknown provider name")
	}
}
