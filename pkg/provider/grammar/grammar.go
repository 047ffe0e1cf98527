// Package grammar defines the Reviewer interface for grammar critique
// backends.
//
// A reviewer looks at what the learner was asked to say and what they
// actually said, and produces a short tutor-style critique. The critique is
// advisory; evaluation scoring never depends on it.
package grammar

import "context"

// Request describes one utterance to review.
type Request struct {
	// TargetText is the sentence the learner was asked to say.
	TargetText string

	// Transcript is what speech recognition heard.
	Transcript string

	// Locale is the BCP-47 tag of the practiced language (e.g. "ko-KR").
	Locale string
}

// Mistake is one concrete grammar or word-choice problem.
type Mistake struct {
	// Said is the problematic fragment as the learner produced it.
	Said string

	// Correct is the corrected form of that fragment.
	Correct string

	// Reason explains why the correction applies.
	Reason string
}

// Verdict is the reviewer's critique.
type Verdict struct {
	// Mistakes lists concrete grammar or word-choice problems, one per entry.
	// Empty when the utterance was fine.
	Mistakes []Mistake

	// TutorComment is a short encouraging remark addressed to the learner.
	TutorComment string
}

// Reviewer is the abstraction over any grammar critique backend.
type Reviewer interface {
	Review(ctx context.Context, req Request) (Verdict, error)
}
