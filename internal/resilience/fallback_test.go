package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackendDown = errors.New("backend down")

// sttGroup builds a two-backend group the way the transcription path does:
// a whisper primary with an openai fallback.
func sttGroup(cfg FallbackConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("whisper", "whisper", cfg)
	fg.AddFallback("openai", "openai")
	return fg
}

func TestFallbackGroup_PrimaryServes(t *testing.T) {
	fg := sttGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	var served string
	err := fg.Execute(func(backend string) error {
		served = backend
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served != "whisper" {
		t.Fatalf("served by %q, want the whisper primary", served)
	}
}

func TestFallbackGroup_FailsOverToNextBackend(t *testing.T) {
	fg := sttGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	var served string
	err := fg.Execute(func(backend string) error {
		if backend == "whisper" {
			return errBackendDown
		}
		served = backend
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served != "openai" {
		t.Fatalf("served by %q, want the openai fallback", served)
	}
}

func TestFallbackGroup_AllBackendsFail(t *testing.T) {
	fg := sttGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	err := fg.Execute(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsBackend(t *testing.T) {
	fg := sttGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})

	// Fail the primary until its breaker opens.
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(backend string) error {
			if backend == "whisper" {
				return errBackendDown
			}
			return nil
		})
	}

	// With the whisper breaker open, requests must land on openai directly.
	var served string
	err := fg.Execute(func(backend string) error {
		served = backend
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served != "openai" {
		t.Fatalf("served by %q, want openai while the whisper circuit is open", served)
	}
}

func TestFallbackGroup_BreakerHookNamesBackend(t *testing.T) {
	var opened []string
	fg := sttGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: time.Hour,
			OnStateChange: func(name string, _, to State) {
				if to == StateOpen {
					opened = append(opened, name)
				}
			},
		},
	})

	// One total outage opens both per-backend breakers; the shared hook must
	// attribute each transition to the right backend.
	_ = fg.Execute(func(string) error { return errBackendDown })

	if len(opened) != 2 || opened[0] != "whisper" || opened[1] != "openai" {
		t.Fatalf("opened breakers = %v, want [whisper openai]", opened)
	}
}

func TestExecuteWithResult_PrimaryValue(t *testing.T) {
	fg := sttGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	transcript, err := ExecuteWithResult(fg, func(backend string) (string, error) {
		return "밥 먹었어요 (" + backend + ")", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transcript != "밥 먹었어요 (whisper)" {
		t.Fatalf("transcript = %q, want the primary's result", transcript)
	}
}

func TestExecuteWithResult_FailoverValue(t *testing.T) {
	fg := sttGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	transcript, err := ExecuteWithResult(fg, func(backend string) (string, error) {
		if backend == "whisper" {
			return "", errBackendDown
		}
		return "안녕하세요", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transcript != "안녕하세요" {
		t.Fatalf("transcript = %q, want the fallback's result", transcript)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup("whisper", "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(string) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
