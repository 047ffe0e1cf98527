package align_test

import (
	"testing"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/sorivox/internal/align"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing question mark", "밥 먹었어요?", "밥 먹었어요"},
		{"korean full stop and spacing", "커피  사 주세요.", "커피 사 주세요"},
		{"east asian punctuation", "「こんにちは。」", "こんにちは"},
		{"fullwidth punctuation", "안녕！？", "안녕"},
		{"latin lowercased", "  Hello,   World! ", "hello world"},
		{"ideographic space collapses", "안　녕", "안 녕"},
		{"punctuation only", "?!.,", ""},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := align.Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q; want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestScore_PunctuationOnlyDifferenceIsPerfect(t *testing.T) {
	t.Parallel()
	res := align.Score("커피 사 주세요.", "커피 사 주세요")
	if res.CER != 0 {
		t.Errorf("CER = %v; want 0", res.CER)
	}
	if res.AccuracyPercent() != 100 {
		t.Errorf("AccuracyPercent = %d; want 100", res.AccuracyPercent())
	}
	for _, u := range res.Units {
		if u.Status != align.StatusCorrect {
			t.Errorf("unit %q has status %q; want correct", u.Char, u.Status)
		}
	}
}

func TestScore_EmptyHypothesis(t *testing.T) {
	t.Parallel()
	res := align.Score("안녕하세요", "")
	if res.CER != 1 {
		t.Errorf("CER = %v; want 1", res.CER)
	}
	if res.AccuracyPercent() != 0 {
		t.Errorf("AccuracyPercent = %d; want 0", res.AccuracyPercent())
	}
}

func TestScore_EmptyTarget(t *testing.T) {
	t.Parallel()
	if got := align.Score("", "").CER; got != 0 {
		t.Errorf("both empty: CER = %v; want 0", got)
	}
	if got := align.Score("?!", "안녕").CER; got != 1 {
		t.Errorf("empty target, non-empty hypothesis: CER = %v; want 1", got)
	}
}

func TestScore_PartialMatch(t *testing.T) {
	t.Parallel()
	res := align.Score("안녕하세요", "안녕")
	if res.EditDistance != 3 {
		t.Errorf("EditDistance = %d; want 3", res.EditDistance)
	}
	if res.CER != 0.6 {
		t.Errorf("CER = %v; want 0.6", res.CER)
	}
	if res.AccuracyPercent() != 40 {
		t.Errorf("AccuracyPercent = %d; want 40", res.AccuracyPercent())
	}
	if res.MistakePercent() != 60 {
		t.Errorf("MistakePercent = %d; want 60", res.MistakePercent())
	}

	wantStatuses := []align.Status{
		align.StatusCorrect, align.StatusCorrect,
		align.StatusMissing, align.StatusMissing, align.StatusMissing,
	}
	if len(res.Units) != len(wantStatuses) {
		t.Fatalf("unit count = %d; want %d", len(res.Units), len(wantStatuses))
	}
	for i, want := range wantStatuses {
		if res.Units[i].Status != want {
			t.Errorf("unit %d status = %q; want %q", i, res.Units[i].Status, want)
		}
	}
	if want := []string{"하", "세", "요"}; len(res.Trouble) != 3 ||
		res.Trouble[0] != want[0] || res.Trouble[1] != want[1] || res.Trouble[2] != want[2] {
		t.Errorf("Trouble = %v; want %v", res.Trouble, want)
	}
}

func TestScore_SubstitutionCarriesHeardChar(t *testing.T) {
	t.Parallel()
	res := align.Score("감사합니다", "감사함니다")
	if res.EditDistance != 1 {
		t.Fatalf("EditDistance = %d; want 1", res.EditDistance)
	}
	var wrong *align.Unit
	for i := range res.Units {
		if res.Units[i].Status == align.StatusWrong {
			wrong = &res.Units[i]
		}
	}
	if wrong == nil {
		t.Fatal("no wrong unit in diff")
	}
	if wrong.Char != "합" || wrong.Heard != "함" {
		t.Errorf("wrong unit = %+v; want Char 합, Heard 함", *wrong)
	}
}

func TestScore_ExtraUnits(t *testing.T) {
	t.Parallel()
	res := align.Score("안녕", "안녕하")
	var extras int
	for _, u := range res.Units {
		if u.Status == align.StatusExtra {
			extras++
			if u.Char != "하" {
				t.Errorf("extra unit Char = %q; want 하", u.Char)
			}
		}
	}
	if extras != 1 {
		t.Errorf("extra unit count = %d; want 1", extras)
	}
	// Extra hypothesis characters never enter the trouble set.
	if len(res.Trouble) != 0 {
		t.Errorf("Trouble = %v; want empty", res.Trouble)
	}
}

// Without insertions, every backtracked step consumes one target character,
// so the diff length must equal the normalized target length.
func TestDiff_UnitCountMatchesTargetLength(t *testing.T) {
	t.Parallel()
	pairs := [][2]string{
		{"안녕하세요", "안녕"},
		{"밥 먹었어요?", "밥 먹었어요"},
		{"감사합니다", "감사함니다"},
		{"커피 사 주세요", ""},
	}
	for _, p := range pairs {
		units := align.Diff(p[0], p[1])
		var nonExtra int
		for _, u := range units {
			if u.Status != align.StatusExtra {
				nonExtra++
			}
		}
		want := len([]rune(align.Normalize(p[0])))
		if nonExtra != want {
			t.Errorf("Diff(%q, %q): %d non-extra units; want %d", p[0], p[1], nonExtra, want)
		}
	}
}

// matchr implements the same rune-level Levenshtein distance independently,
// which makes it a good oracle for the scoring table.
func TestScore_EditDistanceMatchesOracle(t *testing.T) {
	t.Parallel()
	pairs := [][2]string{
		{"안녕하세요", "안녕"},
		{"감사합니다", "감사함니다"},
		{"밥 먹었어요", "밥 먹었어요"},
		{"kitten", "sitting"},
		{"커피 사 주세요", "커피 주세요"},
		{"", "안녕"},
	}
	for _, p := range pairs {
		nt, nh := align.Normalize(p[0]), align.Normalize(p[1])
		want := matchr.Levenshtein(nt, nh)
		got := align.Score(p[0], p[1]).EditDistance
		if got != want {
			t.Errorf("Score(%q, %q).EditDistance = %d; matchr says %d", p[0], p[1], got, want)
		}
	}
}

func TestScore_CERClampedAndRounded(t *testing.T) {
	t.Parallel()
	// Hypothesis much longer than target: raw dist/len would exceed 1.
	if got := align.Score("안", "가나다라마바사").CER; got != 1 {
		t.Errorf("CER = %v; want clamp to 1", got)
	}
	// 1/3 must round to three decimals.
	if got := align.Score("abc", "abd").CER; got != 0.333 {
		t.Errorf("CER = %v; want 0.333", got)
	}
}
