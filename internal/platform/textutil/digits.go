package textutil

import (
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// digitFolder maps Persian (U+06F0..U+06F9) and Arabic-Indic
// (U+0660..U+0669) digits onto their ASCII equivalents.
var digitFolder = runes.Map(func(r rune) rune {
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	}
	return r
})

// FoldDigits rewrites Persian and Arabic-Indic digits to ASCII. Phone
// numbers and amounts arrive in either script from customer input.
func FoldDigits(s string) string {
	folded, _, err := transform.String(digitFolder, s)
	if err != nil {
		return s
	}
	return folded
}
