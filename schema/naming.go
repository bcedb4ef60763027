package schema

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// irregular plurals seen in type names; everything else follows the
// suffix rules in Pluralize.
var irregularPlurals = map[string]string{
	"person": "people",
	"child":  "children",
	"man":    "men",
	"woman":  "women",
	"mouse":  "mice",
	"goose":  "geese",
}

// Pluralize returns the English plural of a lower-camel name. Only the last
// word of the name is inflected.
func Pluralize(name string) string {
	if name == "" {
		return name
	}
	start := lastWordStart(name)
	head, word := name[:start], name[start:]
	lower := strings.ToLower(word)
	if p, ok := irregularPlurals[lower]; ok {
		return head + matchCase(word, p)
	}
	switch {
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"), strings.HasSuffix(lower, "z"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return name + "es"
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !isVowel(lower[len(lower)-2]):
		return name[:len(name)-1] + "ies"
	}
	return name + "s"
}

func lastWordStart(name string) int {
	for i := len(name) - 1; i > 0; i-- {
		if unicode.IsUpper(rune(name[i])) {
			return i
		}
	}
	return 0
}

func matchCase(original, plural string) string {
	r, _ := utf8.DecodeRuneInString(original)
	if unicode.IsUpper(r) {
		return upperFirst(plural)
	}
	return plural
}

func isVowel(b byte) bool {
	return strings.IndexByte("aeiou", b) >= 0
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}
