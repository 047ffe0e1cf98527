// Package align scores a speech transcript against the sentence the learner
// was asked to say. Scoring is a character-level Levenshtein alignment over
// normalized text, which works uniformly for Korean, Japanese and Latin
// scripts without any language-specific tokenizer.
package align

import (
	"math"
	"strings"
	"unicode"
)

// Status classifies one aligned character position.
type Status string

const (
	StatusCorrect Status = "correct"
	StatusWrong   Status = "wrong"
	StatusMissing Status = "missing"
	StatusExtra   Status = "extra"
)

// Unit is one classified position in the rendered diff. Char is the target
// character, except for extra units where it is the surplus hypothesis
// character. Heard is set on wrong units only and carries the character the
// learner actually produced.
type Unit struct {
	Char   string
	Status Status
	Heard  string
}

// Result is the outcome of aligning a hypothesis against a target.
type Result struct {
	EditDistance int
	// CER is the character error rate: edit distance divided by the
	// normalized target length, clamped to [0,1] and rounded to three
	// decimals.
	CER float64
	// Units is the left-to-right diff. With no extra units its length equals
	// the normalized target length.
	Units []Unit
	// Trouble lists the distinct target characters that were wrong or
	// missing, in order of first appearance.
	Trouble []string
}

// AccuracyPercent maps CER to a 0..100 learner-facing score.
func (r Result) AccuracyPercent() int {
	p := 100 - int(math.Round(r.CER*100))
	if p < 0 {
		p = 0
	}
	return p
}

// MistakePercent is the complement of AccuracyPercent.
func (r Result) MistakePercent() int {
	return 100 - r.AccuracyPercent()
}

// Normalize prepares text for alignment: punctuation is stripped, whitespace
// runs collapse to a single space, the result is trimmed and lowercased.
// Lowercasing is a no-op for Hangul and CJK but keeps embedded Latin
// substrings comparable.
//
// The punctuation set is fixed. Widening it changes historical scores, so any
// addition needs a deliberate decision, not a drive-by.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case isPunct(r):
		case unicode.IsSpace(r):
			pendingSpace = true
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// isPunct reports whether r belongs to the stripped punctuation set: ASCII
// punctuation, CJK symbols and punctuation (U+3001..U+303F), and the
// punctuation parts of the halfwidth/fullwidth forms block. The ideographic
// space U+3000 is handled as whitespace, not punctuation.
func isPunct(r rune) bool {
	switch {
	case r >= 0x21 && r <= 0x2F,
		r >= 0x3A && r <= 0x40,
		r >= 0x5B && r <= 0x60,
		r >= 0x7B && r <= 0x7E:
		return true
	case r >= 0x3001 && r <= 0x303F:
		return true
	case r >= 0xFF01 && r <= 0xFF0F,
		r >= 0xFF1A && r <= 0xFF20,
		r >= 0xFF3B && r <= 0xFF40,
		r >= 0xFF5B && r <= 0xFF65:
		return true
	}
	return false
}

// Score normalizes both strings and aligns them with a standard Levenshtein
// dynamic program (insertion, deletion and substitution cost 1, match cost
// 0), then backtracks the table into a diff.
//
// Edge case: an empty normalized target yields CER 0 when the hypothesis is
// also empty, otherwise 1.
func Score(target, hypothesis string) Result {
	t := []rune(Normalize(target))
	h := []rune(Normalize(hypothesis))
	m, n := len(t), len(h)

	d := make([][]int, m+1)
	for i := range d {
		d[i] = make([]int, n+1)
		d[i][0] = i
	}
	for j := 0; j <= n; j++ {
		d[0][j] = j
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if t[i-1] == h[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			best := d[i-1][j-1] // substitution
			if d[i-1][j] < best {
				best = d[i-1][j] // deletion
			}
			if d[i][j-1] < best {
				best = d[i][j-1] // insertion
			}
			d[i][j] = best + 1
		}
	}

	dist := d[m][n]
	units := backtrack(d, t, h)

	var cer float64
	switch {
	case m == 0 && n == 0:
		cer = 0
	case m == 0:
		cer = 1
	default:
		cer = float64(dist) / float64(m)
	}
	if cer > 1 {
		cer = 1
	}
	cer = math.Round(cer*1000) / 1000

	return Result{
		EditDistance: dist,
		CER:          cer,
		Units:        units,
		Trouble:      troubleSet(units),
	}
}

// Diff returns only the unit-level diff of Score.
func Diff(target, hypothesis string) []Unit {
	return Score(target, hypothesis).Units
}

// backtrack walks the filled table from (m,n) to (0,0), emitting one unit per
// step. On equal cost it prefers match, then substitution, then deletion,
// then insertion, mirroring the order the table was built in. The collected
// units are reversed into left-to-right order.
func backtrack(d [][]int, t, h []rune) []Unit {
	units := make([]Unit, 0, max(len(t), len(h)))
	i, j := len(t), len(h)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && t[i-1] == h[j-1] && d[i][j] == d[i-1][j-1]:
			units = append(units, Unit{Char: string(t[i-1]), Status: StatusCorrect})
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			units = append(units, Unit{Char: string(t[i-1]), Status: StatusWrong, Heard: string(h[j-1])})
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			units = append(units, Unit{Char: string(t[i-1]), Status: StatusMissing})
			i--
		default:
			units = append(units, Unit{Char: string(h[j-1]), Status: StatusExtra})
			j--
		}
	}
	for lo, hi := 0, len(units)-1; lo < hi; lo, hi = lo+1, hi-1 {
		units[lo], units[hi] = units[hi], units[lo]
	}
	return units
}

// troubleSet collects the distinct wrong/missing target characters in first
// appearance order.
func troubleSet(units []Unit) []string {
	var out []string
	seen := make(map[string]bool)
	for _, u := range units {
		if u.Status != StatusWrong && u.Status != StatusMissing {
			continue
		}
		if seen[u.Char] {
			continue
		}
		seen[u.Char] = true
		out = append(out, u.Char)
	}
	return out
}
