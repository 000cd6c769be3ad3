package classifier

import (
	"strings"
	"unicode"
)

var letterFold = map[rune]rune{
	'أ': 'ا',
	'إ': 'ا',
	'آ': 'ا',
	'ٱ': 'ا',
	'ى': 'ي',
	'ئ': 'ي',
	'ؤ': 'و',
	'ة': 'ه',
}

// Normalize folds a transcript into the form the vocabularies are written in:
// lower-case, no Arabic diacritics or tatweel, unified alef/yeh/teh marbuta,
// ASCII digits, punctuation replaced by single spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 0x064B && r <= 0x065F, r == 0x0670, r == 0x0640:
			continue
		case r >= 0x0660 && r <= 0x0669:
			r = '0' + (r - 0x0660)
		case r >= 0x06F0 && r <= 0x06F9:
			r = '0' + (r - 0x06F0)
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			r = ' '
		}
		if f, ok := letterFold[r]; ok {
			r = f
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
