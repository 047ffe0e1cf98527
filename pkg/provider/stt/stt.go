// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a batch transcription service (a local whisper-server,
// the OpenAI audio API, or similar) behind a uniform one-shot interface: one
// complete learner recording in, one transcript out. Evaluation works on
// finished utterances, so there is no streaming surface here.
//
// Implementations must be safe for concurrent use; the evaluation service
// shares one Provider across all requests.
package stt

import "context"

// Request is one complete utterance to transcribe.
type Request struct {
	// WAV is the full RIFF/WAVE container as uploaded by the learner.
	WAV []byte

	// Locale is the BCP-47 tag of the expected language (e.g. "ko-KR").
	// Providers that only take a bare language code derive it from the tag.
	Locale string

	// Prompt optionally biases recognition toward expected vocabulary. The
	// evaluation service passes the target sentence here.
	Prompt string
}

// Transcript is the authoritative recognition result for one Request.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the provider detected or was told to use.
	// May be empty when the provider does not report it.
	Language string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe converts one complete recording to text. Errors carry enough
	// type information for retry classification: HTTP-level failures are
	// wrapped *resilience.StatusError values.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// LanguageCode reduces a BCP-47 locale tag to its bare language code:
// "ko-KR" becomes "ko". Tags without a region pass through unchanged.
func LanguageCode(locale string) string {
	for i := 0; i < len(locale); i++ {
		if locale[i] == '-' || locale[i] == '_' {
			return locale[:i]
		}
	}
	return locale
}
