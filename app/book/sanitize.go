package book

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxNameLength = 100

var (
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	separatorRuns = regexp.MustCompile(`[\s\-]+`)

	// đ has no canonical decomposition, so it is mapped before accents are folded.
	strokeReplacer = strings.NewReplacer("đ", "d", "Đ", "D")
)

// Sanitize turns an arbitrary title into a filesystem-safe ASCII name. Applying
// it twice yields the same result as applying it once.
func Sanitize(name string) string {
	name = reservedChars.ReplaceAllString(name, "")
	name = separatorRuns.ReplaceAllString(name, "_")
	name = foldAccents(name)

	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	name = b.String()

	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return strings.Trim(name, "_")
}

func foldAccents(s string) string {
	s = strokeReplacer.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
