// Package sanitizer strips markup from user-supplied todo content before it
// reaches storage or cached payloads.
package sanitizer

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer cleans user-supplied text fields
type InputSanitizer interface {
	// PlainText strips every tag, leaving text content only
	PlainText(input string) string
	// RichText keeps basic formatting markup and strips the rest
	RichText(input string) string
}

// DefaultSanitizer implements InputSanitizer using bluemonday
type DefaultSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// New creates a sanitizer with a strict policy for titles, categories, and
// tags, and a formatting-only policy for notes.
func New() *DefaultSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"p", "br",
		"strong", "b", "em", "i", "u", "s",
		"blockquote", "pre", "code",
		"ul", "ol", "li",
	)

	return &DefaultSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

// PlainText strips every tag and trims surrounding whitespace
func (s *DefaultSanitizer) PlainText(input string) string {
	return strings.TrimSpace(s.strict.Sanitize(input))
}

// RichText keeps basic formatting elements and strips everything else,
// including scripts, event handlers, and links.
func (s *DefaultSanitizer) RichText(input string) string {
	return strings.TrimSpace(s.rich.Sanitize(input))
}
