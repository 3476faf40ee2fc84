// Package persona parses the grammatical persona the model infers about the
// user. The model reports it inline as a bracketed marker, e.g. "[GENDER: female]".
package persona

import (
	"regexp"
	"strings"
)

type Persona string

const (
	None   Persona = ""
	Male   Persona = "male"
	Female Persona = "female"
)

// markerPattern accepts exactly one enumerated value inside the brackets.
var markerPattern = regexp.MustCompile(`(?i)\s*\[\s*GENDER\s*:\s*(male|female)\s*\]\s*`)

// Parse normalizes a stored or directory-provided value.
func Parse(raw string) (Persona, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "male", "m", "man":
		return Male, true
	case "female", "f", "woman":
		return Female, true
	default:
		return None, false
	}
}

func (p Persona) String() string {
	return string(p)
}

// Extract strips every marker (and the whitespace around it) from text and
// returns the persona carried by the first one.
func Extract(text string) (string, Persona, bool) {
	loc := markerPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, None, false
	}

	found, _ := Parse(text[loc[2]:loc[3]])
	cleaned := markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		if strings.Contains(m, "\n") {
			return "\n"
		}
		return " "
	})
	return strings.TrimSpace(cleaned), found, true
}
