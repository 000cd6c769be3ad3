package classifier

import (
	"strconv"
	"strings"

	"github.com/yoockh/yoocall/internal/models"
)

// Normalized values carried in submissions.
const (
	ValueNo        = 0
	ValueYes       = 1
	ValueUncertain = 3
)

// Result is the outcome of classifying one transcript.
// Value is nil for unrecognized answers.
type Result struct {
	Category models.Category
	Value    *int
}

// Vocabularies are stored normalized.
var (
	uncertainPhrases = []string{
		"غير متاكد", "مش متاكد", "مو متاكد", "لست متاكد",
		"لا اعرف", "ما اعرف", "مش عارف", "ما ادري", "مدري", "لا ادري",
		"ربما", "يمكن", "جايز", "مش اكيد",
		"not sure", "dont know", "don t know", "maybe", "uncertain", "perhaps",
	}
	negativePhrases = []string{
		"غير موافق", "مش موافق", "مو موافق", "لست موافق", "ما وافق",
		"not agree", "disagree", "not really",
	}
	yesTokens = toSet(
		"نعم", "اي", "ايوه", "ايوا", "اكيد", "طبعا", "موافق", "صحيح", "تمام", "اجل", "بلي",
		"yes", "yeah", "yep", "sure", "ok", "okay",
	)
	noTokens = toSet(
		"لا", "كلا", "ابدا", "مستحيل", "خطا", "غلط",
		"no", "nope", "never",
	)
	numberWords = map[string]int{
		"صفر": 0,
		"واحد": 1, "وحده": 1,
		"اثنين": 2, "اثنان": 2, "اتنين": 2, "ثنين": 2,
		"ثلاثه": 3, "ثلاث": 3, "تلاته": 3, "تلات": 3,
		"اربعه": 4, "اربع": 4,
		"خمسه": 5, "خمس": 5,
		"سته": 6, "ست": 6,
		"سبعه": 7, "سبع": 7,
		"ثمانيه": 8, "ثماني": 8, "تمانيه": 8,
		"تسعه": 9, "تسع": 9,
		"عشره": 10, "عشر": 10,
		"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	}
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// ForQuestion classifies text against the question's kind and scale bounds.
func ForQuestion(text string, q models.QuestionSpec) Result {
	lo, hi := q.ScaleBounds()
	return Classify(text, q.Kind, lo, hi)
}

// Classify maps a transcript to a closed category. It never fails: text that
// matches nothing is unrecognized.
func Classify(text string, kind models.QuestionKind, lo, hi int) Result {
	norm := Normalize(text)
	if norm == "" {
		return Result{Category: models.CategoryUnrecognized}
	}
	if kind == models.KindScale {
		return classifyScale(norm, lo, hi)
	}
	return classifyBinary(norm)
}

func classifyBinary(norm string) Result {
	if containsPhrase(norm, uncertainPhrases) {
		return valued(models.CategoryUncertain, ValueUncertain)
	}
	if containsPhrase(norm, negativePhrases) {
		return valued(models.CategoryNo, ValueNo)
	}

	var yes, no bool
	for _, tok := range tokens(norm) {
		if _, ok := yesTokens[tok]; ok {
			yes = true
		}
		if _, ok := noTokens[tok]; ok {
			no = true
		}
	}
	switch {
	case yes && no:
		return valued(models.CategoryUncertain, ValueUncertain)
	case yes:
		return valued(models.CategoryYes, ValueYes)
	case no:
		return valued(models.CategoryNo, ValueNo)
	}
	return Result{Category: models.CategoryUnrecognized}
}

func classifyScale(norm string, lo, hi int) Result {
	for _, tok := range tokens(norm) {
		n, ok := parseNumber(tok)
		if ok && n >= lo && n <= hi {
			return valued(models.CategoryNumericScale, n)
		}
	}
	if containsPhrase(norm, uncertainPhrases) {
		return valued(models.CategoryUncertain, ValueUncertain)
	}
	return Result{Category: models.CategoryUnrecognized}
}

func parseNumber(tok string) (int, bool) {
	if n, err := strconv.Atoi(tok); err == nil {
		return n, true
	}
	if n, ok := numberWords[tok]; ok {
		return n, true
	}
	// conjunction prefix: "وخمسه"
	if rest, found := strings.CutPrefix(tok, "و"); found {
		if n, ok := numberWords[rest]; ok {
			return n, true
		}
	}
	return 0, false
}

// tokens also yields each Arabic token without a leading conjunction waw,
// so "ولا" and "ونعم" match their bare forms.
func tokens(norm string) []string {
	fields := strings.Fields(norm)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f)
		if rest, found := strings.CutPrefix(f, "و"); found && len(rest) > 0 {
			out = append(out, rest)
		}
	}
	return out
}

func containsPhrase(norm string, phrases []string) bool {
	padded := " " + norm + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func valued(c models.Category, v int) Result {
	return Result{Category: c, Value: &v}
}
