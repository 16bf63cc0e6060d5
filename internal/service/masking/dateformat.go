package masking

import (
	"fmt"
	"strings"
)

// layoutTokens maps pattern letter runs (yyyy-MM-dd style, as used by the
// masking service's Field-Date-Format header) to Go reference-time layouts.
var layoutTokens = map[string]string{
	"yyyy":   "2006",
	"yy":     "06",
	"MMMM":   "January",
	"MMM":    "Jan",
	"MM":     "01",
	"M":      "1",
	"dd":     "02",
	"d":      "2",
	"HH":     "15",
	"H":      "15",
	"hh":     "03",
	"h":      "3",
	"mm":     "04",
	"m":      "4",
	"ss":     "05",
	"s":      "5",
	"S":      "0",
	"SS":     "00",
	"SSS":    "000",
	"SSSSSS": "000000",
	"a":      "PM",
	"EEE":    "Mon",
	"EEEE":   "Monday",
	"X":      "Z07",
	"XX":     "Z0700",
	"XXX":    "Z07:00",
	"Z":      "-0700",
	"z":      "MST",
}

// goLayout converts a date pattern such as "yyyy-MM-dd'T'HH:mm:ss" into a Go
// time layout. Quoted text is literal; two quotes in a row are one quote.
func goLayout(pattern string) (string, error) {
	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\'':
			if i+1 < len(runes) && runes[i+1] == '\'' {
				b.WriteRune('\'')
				i += 2
				continue
			}
			end := i + 1
			for end < len(runes) && runes[end] != '\'' {
				end++
			}
			if end == len(runes) {
				return "", fmt.Errorf("date format %q: unterminated quote", pattern)
			}
			b.WriteString(string(runes[i+1 : end]))
			i = end + 1
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			j := i
			for j < len(runes) && runes[j] == r {
				j++
			}
			tok := string(runes[i:j])
			layout, ok := layoutTokens[tok]
			if !ok {
				return "", fmt.Errorf("date format %q: unsupported field %q", pattern, tok)
			}
			b.WriteString(layout)
			i = j
		default:
			b.WriteRune(r)
			i++
		}
	}
	return b.String(), nil
}
