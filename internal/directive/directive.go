// Package directive recognizes the loop control tags users embed in chat
// messages, rewrites start messages into the prompt the model actually sees,
// and detects the completion marker in assistant output.
//
// Start:  <ocontinue-start max="20" promise="DONE">task prompt</ocontinue-start>
// Stop:   <ocontinue-stop/>  (any occurrence of "<ocontinue-stop")
// Marker: <promise>DONE</promise>, case-insensitive, anywhere in the text
//
// Attribute values are trimmed of surrounding whitespace before use. A max
// that is then empty, not an integer or below 1 becomes DefaultMaxIterations.
// A promise that is then empty becomes DefaultPromise; otherwise the trimmed
// value is what gets persisted and what the marker must contain, so
// promise=" SHIPPED " expects <promise>SHIPPED</promise>.
package directive

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultMaxIterations applies when max is missing, blank or not a
	// positive integer.
	DefaultMaxIterations = 20
	// DefaultPromise applies when promise is missing or blank.
	DefaultPromise = "DONE"

	// StopTag is the substring that marks a stop directive.
	StopTag = "<ocontinue-stop"
)

var (
	startRe = regexp.MustCompile(`(?s)<ocontinue-start\b([^>]*)>(.*?)</ocontinue-start>`)
	attrRe  = regexp.MustCompile(`([A-Za-z_][\w-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Kind classifies a message.
type Kind int

const (
	None Kind = iota
	Start
	Stop
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "none"
	}
}

// Directive is the result of parsing one message.
type Directive struct {
	Kind          Kind
	MaxIterations int
	Promise       string
	Prompt        string
}

// Parser holds the defaults applied to start directives. The zero value uses
// DefaultMaxIterations and DefaultPromise.
type Parser struct {
	DefaultMaxIterations int
	DefaultPromise       string
}

// Parse classifies text using the package defaults.
func Parse(text string) Directive {
	return Parser{}.Parse(text)
}

// Parse classifies text. A stop tag wins over a start block in the same
// message. Only the first well-formed start block is honored. Malformed
// attributes never fail; they fall back to the defaults.
func (p Parser) Parse(text string) Directive {
	if strings.Contains(text, StopTag) {
		return Directive{Kind: Stop}
	}
	m := startRe.FindStringSubmatch(text)
	if m == nil {
		return Directive{Kind: None}
	}
	attrs := parseAttrs(m[1])
	return Directive{
		Kind:          Start,
		MaxIterations: p.maxIterations(attrs["max"]),
		Promise:       p.promise(attrs["promise"]),
		Prompt:        strings.TrimSpace(m[2]),
	}
}

// HasStart reports whether text carries a well-formed start block.
func HasStart(text string) bool {
	return startRe.MatchString(text)
}

func (p Parser) maxIterations(raw string) int {
	def := p.DefaultMaxIterations
	if def <= 0 {
		def = DefaultMaxIterations
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func (p Parser) promise(raw string) string {
	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	if p.DefaultPromise != "" {
		return p.DefaultPromise
	}
	return DefaultPromise
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		key := strings.ToLower(m[1])
		if _, seen := attrs[key]; seen {
			continue
		}
		if m[2] != "" {
			attrs[key] = m[2]
		} else {
			attrs[key] = m[3]
		}
	}
	return attrs
}
