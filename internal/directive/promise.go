package directive

import "strings"

// Fulfilled reports whether text contains the delimiter-wrapped promise,
// ignoring case. Empty text never matches.
func Fulfilled(text, promise string) bool {
	if text == "" || promise == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(Marker(promise)))
}

// JoinText concatenates the text segments of one turn in order, one per line.
func JoinText(segments []string) string {
	return strings.Join(segments, "\n")
}
