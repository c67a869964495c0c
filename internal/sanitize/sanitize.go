// Package sanitize cleans raw model output before it is stored or shown.
// Every model response passes through Clean; every string leaf of an
// extracted payload passes through Field.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxResponseChars caps a single model response.
const MaxResponseChars = 100000

// MaxFieldChars caps a single extracted string leaf before truncation.
const MaxFieldChars = 10000

// TruncationMarker is appended to any truncated field so the cut is visible.
const TruncationMarker = " [truncated]"

// TooLongError reports a model response above MaxResponseChars.
type TooLongError struct {
	Length int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("response length %d exceeds limit %d", e.Length, MaxResponseChars)
}

// Known prompt-injection delimiter strings, removed wherever they appear.
var injectionMarkers = []string{
	"<|im_start|>",
	"<|im_end|>",
	"<|endoftext|>",
	"<|system|>",
	"<|user|>",
	"<|assistant|>",
	"[INST]",
	"[/INST]",
	"<<SYS>>",
	"<</SYS>>",
	"### System:",
	"### Instruction:",
}

var htmlTagPattern = regexp.MustCompile(`<[^<>]*>`)

// Clean sanitizes a full model response: rejects anything above
// MaxResponseChars, strips non-printable control characters except newline
// and tab, removes injection delimiters and replaces invalid UTF-8.
// Idempotent: Clean(Clean(x)) == Clean(x).
func Clean(raw string) (string, error) {
	if len(raw) > MaxResponseChars {
		return "", &TooLongError{Length: len(raw)}
	}
	return scrub(raw), nil
}

// Field sanitizes one string leaf of an extracted payload: scrubs like
// Clean, strips markup tags, and truncates anything over MaxFieldChars with
// a visible marker.
func Field(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = scrub(s)
	s = strings.TrimSpace(s)
	if len(s) > MaxFieldChars {
		s = s[:MaxFieldChars] + TruncationMarker
	}
	return s
}

func scrub(s string) string {
	// UTF-8 repair and control stripping run first: a control character can
	// splice marker fragments together, so marker removal must see the text
	// it would produce.
	s = strings.ToValidUTF8(s, "�")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	// Removal runs to a fixpoint so a marker reassembled by a prior removal
	// cannot survive a single pass.
	for {
		before := s
		for _, marker := range injectionMarkers {
			s = strings.ReplaceAll(s, marker, "")
		}
		if s == before {
			break
		}
	}
	return s
}
