package directive

import (
	"fmt"
	"strings"
)

// Marker wraps promise in the delimiter tag the assistant must emit.
func Marker(promise string) string {
	return "<promise>" + promise + "</promise>"
}

// Suffix is the instruction appended to every prompt sent to the model.
func Suffix(promise string) string {
	return fmt.Sprintf("---\nThis task runs in a continuation loop: the same prompt is sent again after each of your replies until you finish. "+
		"When the task is fully complete, and only then, include %s in your reply.", Marker(promise))
}

// Compose returns prompt followed by the completion instruction for promise.
// It is idempotent: a prompt that already ends with the instruction is
// returned unchanged.
func Compose(prompt, promise string) string {
	prompt = strings.TrimSpace(prompt)
	suffix := Suffix(promise)
	if strings.HasSuffix(prompt, suffix) {
		return prompt
	}
	return prompt + "\n\n" + suffix
}

// Rewrite replaces a message carrying a start directive with the composed
// prompt. promise overrides the directive's own marker when non-empty, so the
// transcript and the model payload agree with whatever marker was persisted.
// Text without a start directive, including text already rewritten, is
// returned unchanged with ok false.
func (p Parser) Rewrite(text, promise string) (string, bool) {
	if !HasStart(text) {
		return text, false
	}
	d := p.Parse(text)
	if d.Kind != Start {
		return text, false
	}
	if promise == "" {
		promise = d.Promise
	}
	return Compose(d.Prompt, promise), true
}

// Rewrite uses the package defaults.
func Rewrite(text, promise string) (string, bool) {
	return Parser{}.Rewrite(text, promise)
}
