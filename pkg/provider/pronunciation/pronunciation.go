// Package pronunciation defines the Analyzer interface for pronunciation
// critique backends.
//
// Pronunciation critique is a best-effort enrichment: an Analyzer never
// returns an error. When the backend is unreachable, times out, or answers
// garbage, the Verdict comes back with Available set to false and a
// diagnostic for the logs, and evaluation continues without it.
package pronunciation

import "context"

// AnalysisRequest carries one utterance to critique.
type AnalysisRequest struct {
	// TargetText is the sentence the learner was asked to say.
	TargetText string

	// Transcript is what speech recognition heard. Gives the analyzer
	// context about which words were at least recognisable.
	Transcript string

	// Locale is the BCP-47 tag of the practiced language.
	Locale string

	// PCM is the learner's audio in canonical form: 16 kHz, mono, 16-bit
	// signed little-endian.
	PCM []byte
}

// WeakItem is one sound or syllable the learner struggled with.
type WeakItem struct {
	// Token is the sound or syllable itself (e.g. "ㅎ", "받").
	Token string

	// Reason describes what went wrong with it.
	Reason string

	// Tip is a short suggestion for producing the sound correctly.
	Tip string
}

// StrongItem is one sound or syllable that came out well.
type StrongItem struct {
	Token  string
	Reason string
}

// Verdict is the analyzer's critique of one utterance.
type Verdict struct {
	// Available reports whether the backend produced a usable critique.
	// When false all other critique fields are empty.
	Available bool

	// WeakItems lists sounds or syllables the learner struggled with.
	WeakItems []WeakItem

	// StrongItems lists sounds or syllables that came out well.
	StrongItems []StrongItem

	// ShortComment is a one or two sentence remark for the learner.
	ShortComment string

	// Diagnostic explains why the critique is unavailable, or preserves the
	// raw model text when it could not be parsed. Log-only; never shown to
	// learners.
	Diagnostic string
}

// Analyzer is the abstraction over any pronunciation critique backend.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) Verdict
}
