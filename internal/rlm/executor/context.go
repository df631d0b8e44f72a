package executor

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ContentType is the coarse classification of a loaded context string, used
// only to phrase the system prompt's environment description.
type ContentType string

const (
	ContentJSON     ContentType = "json"
	ContentCode     ContentType = "code"
	ContentMarkdown ContentType = "markdown"
	ContentPlain    ContentType = "plain"
)

// LoadedContext is the minimal analysis performed over the raw context
// string before it is handed to the sandbox.
type LoadedContext struct {
	Length        int
	TokenEstimate int
	ContentType   ContentType
}

var (
	codeLineRe     = regexp.MustCompile(`(?m)^(import |from \w+ import|const |function |class |def |package )`)
	markdownLineRe = regexp.MustCompile(`(?m)^(#{1,6} |\s*[-*] )`)
)

// LoadContext computes length in characters, a rough token estimate, and a
// content-type guess for raw context text.
func LoadContext(raw string) LoadedContext {
	n := utf8.RuneCountInString(raw)
	return LoadedContext{
		Length:        n,
		TokenEstimate: int(math.Ceil(float64(n) / 4)),
		ContentType:   detectContentType(raw),
	}
}

func detectContentType(raw string) ContentType {
	trimmed := strings.TrimSpace(raw)
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && gjson.Valid(trimmed) {
		return ContentJSON
	}
	if codeLineRe.MatchString(raw) {
		return ContentCode
	}
	if markdownLineRe.MatchString(raw) {
		return ContentMarkdown
	}
	return ContentPlain
}

// EscapeContext prepares raw context text for embedding as a literal in the
// sandboxed program: backslashes are doubled, triple quotes are escaped, and
// line endings are normalized to LF.
func EscapeContext(raw string) string {
	s := strings.ReplaceAll(raw, "\\", "\\\\")
	s = strings.ReplaceAll(s, `"""`, `\"\"\"`)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}
