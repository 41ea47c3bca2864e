package directive

import (
	"strings"
	"testing"
)

func TestParse_Start(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantMax     int
		wantPromise string
		wantPrompt  string
	}{
		{
			name:        "explicit attributes",
			text:        `<ocontinue-start max="5" promise="COMPLETE">Fix the tests</ocontinue-start>`,
			wantMax:     5,
			wantPromise: "COMPLETE",
			wantPrompt:  "Fix the tests",
		},
		{
			name:        "blank attributes use defaults",
			text:        `<ocontinue-start max="" promise="">Fix the tests</ocontinue-start>`,
			wantMax:     20,
			wantPromise: "DONE",
			wantPrompt:  "Fix the tests",
		},
		{
			name:        "whitespace promise uses default",
			text:        `<ocontinue-start max=" 7 " promise="   ">Fix the tests</ocontinue-start>`,
			wantMax:     7,
			wantPromise: "DONE",
			wantPrompt:  "Fix the tests",
		},
		{
			name:        "promise is trimmed",
			text:        `<ocontinue-start promise=" SHIPPED ">Fix the tests</ocontinue-start>`,
			wantMax:     20,
			wantPromise: "SHIPPED",
			wantPrompt:  "Fix the tests",
		},
		{
			name:        "missing attributes use defaults",
			text:        `<ocontinue-start>Fix the tests</ocontinue-start>`,
			wantMax:     20,
			wantPromise: "DONE",
			wantPrompt:  "Fix the tests",
		},
		{
			name:        "non-numeric max fails closed",
			text:        `<ocontinue-start max="lots">x</ocontinue-start>`,
			wantMax:     20,
			wantPromise: "DONE",
			wantPrompt:  "x",
		},
		{
			name:        "zero max fails closed",
			text:        `<ocontinue-start max="0">x</ocontinue-start>`,
			wantMax:     20,
			wantPromise: "DONE",
			wantPrompt:  "x",
		},
		{
			name:        "attribute order and single quotes",
			text:        `<ocontinue-start promise='SHIPPED' max='3'>x</ocontinue-start>`,
			wantMax:     3,
			wantPromise: "SHIPPED",
			wantPrompt:  "x",
		},
		{
			name:        "body trimmed, surrounding text ignored",
			text:        "please\n<ocontinue-start max=\"2\">\n\n  line one\n  line two\n\n</ocontinue-start>\nthanks",
			wantMax:     2,
			wantPromise: "DONE",
			wantPrompt:  "line one\n  line two",
		},
		{
			name:        "only first block honored",
			text:        `<ocontinue-start max="1">first</ocontinue-start><ocontinue-start max="9">second</ocontinue-start>`,
			wantMax:     1,
			wantPromise: "DONE",
			wantPrompt:  "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Parse(tt.text)
			if d.Kind != Start {
				t.Fatalf("Kind = %v, want start", d.Kind)
			}
			if d.MaxIterations != tt.wantMax {
				t.Errorf("MaxIterations = %d, want %d", d.MaxIterations, tt.wantMax)
			}
			if d.Promise != tt.wantPromise {
				t.Errorf("Promise = %q, want %q", d.Promise, tt.wantPromise)
			}
			if d.Prompt != tt.wantPrompt {
				t.Errorf("Prompt = %q, want %q", d.Prompt, tt.wantPrompt)
			}
		})
	}
}

func TestParse_StopAndNone(t *testing.T) {
	tests := []struct {
		text string
		want Kind
	}{
		{"<ocontinue-stop/>", Stop},
		{"please <ocontinue-stop> now", Stop},
		{"<ocontinue-stop", Stop},
		{`<ocontinue-start max="3">x</ocontinue-start> <ocontinue-stop/>`, Stop},
		{"just a normal message", None},
		{"<ocontinue-start max=\"3\">never closed", None},
		{"", None},
	}
	for _, tt := range tests {
		if got := Parse(tt.text).Kind; got != tt.want {
			t.Errorf("Parse(%q).Kind = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestParser_ConfiguredDefaults(t *testing.T) {
	p := Parser{DefaultMaxIterations: 7, DefaultPromise: "FIN"}
	d := p.Parse(`<ocontinue-start>x</ocontinue-start>`)
	if d.MaxIterations != 7 || d.Promise != "FIN" {
		t.Errorf("got max=%d promise=%q, want 7/FIN", d.MaxIterations, d.Promise)
	}
	d = p.Parse(`<ocontinue-start max="2" promise="OK">x</ocontinue-start>`)
	if d.MaxIterations != 2 || d.Promise != "OK" {
		t.Errorf("explicit attributes must win: got max=%d promise=%q", d.MaxIterations, d.Promise)
	}
}

func TestRewrite(t *testing.T) {
	text := `<ocontinue-start max="3" promise="COMPLETE">  Port the parser  </ocontinue-start>`

	got, ok := Rewrite(text, "")
	if !ok {
		t.Fatal("expected rewrite")
	}
	if !strings.HasPrefix(got, "Port the parser\n\n") {
		t.Errorf("rewritten text should start with the trimmed prompt, got %q", got)
	}
	if !strings.Contains(got, "<promise>COMPLETE</promise>") {
		t.Errorf("rewritten text should carry the parsed marker, got %q", got)
	}
	if strings.Contains(got, "ocontinue-start") {
		t.Errorf("directive tag must be removed, got %q", got)
	}

	// Persisted promise overrides the parsed one.
	got, _ = Rewrite(text, "PERSISTED")
	if !strings.Contains(got, "<promise>PERSISTED</promise>") || strings.Contains(got, "<promise>COMPLETE</promise>") {
		t.Errorf("persisted promise should win, got %q", got)
	}
}

func TestRewrite_Idempotent(t *testing.T) {
	text := `<ocontinue-start>Port the parser</ocontinue-start>`
	once, _ := Rewrite(text, "")

	twice, ok := Rewrite(once, "")
	if ok {
		t.Error("already rewritten text must not match again")
	}
	if twice != once {
		t.Errorf("second rewrite changed text:\n%q\n%q", once, twice)
	}
	if n := strings.Count(twice, Suffix("DONE")); n != 1 {
		t.Errorf("suffix appears %d times, want 1", n)
	}

	if Compose(once, "DONE") != once {
		t.Error("Compose must not append the suffix twice")
	}
}

func TestRewrite_PassThrough(t *testing.T) {
	for _, text := range []string{"hello", "<ocontinue-stop/>", ""} {
		got, ok := Rewrite(text, "")
		if ok || got != text {
			t.Errorf("Rewrite(%q) = %q, %v; want unchanged", text, got, ok)
		}
	}
}

func TestFulfilled(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		promise string
		want    bool
	}{
		{"exact", "...done! <promise>DONE</promise>", "DONE", true},
		{"case insensitive", "all good <promise>done</promise>", "DONE", true},
		{"mixed case tag", "<PROMISE>Done</Promise>", "DONE", true},
		{"unanchored", "<promise>DONE</promise> and then more text", "DONE", true},
		{"different marker", "<promise>DONE</promise>", "COMPLETE", false},
		{"bare word", "DONE", "DONE", false},
		{"empty text", "", "DONE", false},
		{"multi-segment", JoinText([]string{"step one", "<promise>COMPLETE</promise>"}), "COMPLETE", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fulfilled(tt.text, tt.promise); got != tt.want {
				t.Errorf("Fulfilled(%q, %q) = %v, want %v", tt.text, tt.promise, got, tt.want)
			}
		})
	}
}
