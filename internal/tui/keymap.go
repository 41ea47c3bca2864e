package tui

// KeyBindings lists every key the dashboard handles, in footer order.
var KeyBindings = []struct {
	Key  string
	Help string
}{
	{"tab", "switch panel"},
	{"j/k", "move"},
	{"x", "stop loop"},
	{"r", "refresh"},
	{"f", "follow"},
	{"q", "quit"},
}

// helpLine renders KeyBindings for the footer.
func helpLine() string {
	out := ""
	for i, b := range KeyBindings {
		if i > 0 {
			out += "  "
		}
		out += b.Key + " " + b.Help
	}
	return out
}
