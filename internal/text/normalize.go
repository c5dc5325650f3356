// Package text prepares input text for speech synthesis: light normalisation
// followed by sentence-aware chunking.
package text

import (
	"regexp"
	"strings"
)

// Regex patterns for normalisation.
const (
	inlineSpaceRegexPattern = `[ \t\f\v\x{00A0}]+`
	referenceRegexPattern   = `\[\d+\]`
)

// Normalizer rewrites text into a form the synthesis engine pronounces well.
// Line structure is preserved because the chunker treats line breaks as
// sentence boundaries.
type Normalizer struct {
	inlineSpacePattern *regexp.Regexp
	referencePattern   *regexp.Regexp
	replacer           *strings.Replacer
}

// NewNormalizer creates a Normalizer with precompiled patterns and replacers.
func NewNormalizer() *Normalizer {
	replacements := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Dr.", "Doctor",
		"St.", "Saint",
		"\r\n", "\n",
		"\r", "\n",
		"—", " - ",
		"–", "-",
		"‒", "-",
		"…", "...",
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	}

	return &Normalizer{
		inlineSpacePattern: regexp.MustCompile(inlineSpaceRegexPattern),
		referencePattern:   regexp.MustCompile(referenceRegexPattern),
		replacer:           strings.NewReplacer(replacements...),
	}
}

// Normalize expands common abbreviations, unifies quotes and dashes, removes
// bracketed reference markers and collapses runs of inline whitespace. Blank
// lines are dropped.
func (n *Normalizer) Normalize(input string) string {
	if input == "" {
		return input
	}

	replaced := n.replacer.Replace(input)
	replaced = n.referencePattern.ReplaceAllString(replaced, "")

	lines := strings.Split(replaced, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		cleaned := strings.TrimSpace(n.inlineSpacePattern.ReplaceAllString(line, " "))
		if cleaned != "" {
			kept = append(kept, cleaned)
		}
	}

	return strings.Join(kept, "\n")
}
