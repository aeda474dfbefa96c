package directive

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseExample(t *testing.T) {
	got := Parse("RATIONALE\nchecking\nREAD_FILES\nfoo.txt\n")
	want := Directive{
		Rationale: "checking\n",
		Actions:   []Action{{Kind: ReadFiles, Body: "foo.txt"}},
		Raw:       "RATIONALE\nchecking\nREAD_FILES\nfoo.txt\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRepeatedKinds(t *testing.T) {
	text := strings.Join([]string{
		"RATIONALE",
		"look at two files",
		"READ_FILES",
		"a.txt",
		"READ_FILES",
		"b.txt",
		"",
		"THINK",
		"line one",
		"",
		"line three",
	}, "\n")

	got := Parse(text).Actions
	want := []Action{
		{Kind: ReadFiles, Body: "a.txt"},
		{Kind: ReadFiles, Body: "b.txt\n"},
		{Kind: Think, Body: "line one\n\nline three"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseNMarkersInOrder(t *testing.T) {
	kinds := Kinds()
	var b strings.Builder
	for i, k := range kinds {
		b.WriteString(string(k))
		b.WriteString("\nbody ")
		b.WriteString(string(rune('a' + i%26)))
		b.WriteString("\n")
	}

	got := Parse(b.String()).Actions
	if len(got) != len(kinds) {
		t.Fatalf("expected %d actions, got %d", len(kinds), len(got))
	}
	for i, a := range got {
		if a.Kind != kinds[i] {
			t.Errorf("action %d kind = %s, want %s", i, a.Kind, kinds[i])
		}
		if strings.HasSuffix(a.Body, "\n") {
			t.Errorf("action %d body not trimmed: %q", i, a.Body)
		}
	}
}

func TestParseNoMarkers(t *testing.T) {
	text := "Just chatting, no actions here.\nSecond line."
	d := Parse(text)
	if d.HasActions() {
		t.Fatalf("expected zero actions, got %v", d.Actions)
	}
	if d.Preamble != text+"\n" {
		t.Errorf("preamble = %q", d.Preamble)
	}
	if d.Fallback() != text {
		t.Errorf("fallback = %q", d.Fallback())
	}
}

func TestParseEmpty(t *testing.T) {
	d := Parse("")
	if d.HasActions() || d.Rationale != "" || d.Preamble != "" {
		t.Errorf("unexpected directive for empty input: %+v", d)
	}
}

func TestRationaleOnlyFirstHonored(t *testing.T) {
	text := "RATIONALE\nfirst\nRATIONALE\nsecond\nTHINK\nhmm"
	d := Parse(text)
	if d.Rationale != "first\nRATIONALE\nsecond\n" {
		t.Errorf("rationale = %q", d.Rationale)
	}

	// The first rationale marker is honored wherever it appears and closes
	// the open action.
	d = Parse("THINK\na\nRATIONALE\nb")
	if len(d.Actions) != 1 || d.Actions[0].Body != "a" || d.Rationale != "b\n" {
		t.Errorf("unexpected directive: %+v", d)
	}
}

func TestMarkersMustMatchExactly(t *testing.T) {
	d := Parse("THINK about it\nREAD_FILES:\n  THINK  \nok")
	if len(d.Actions) != 1 {
		t.Fatalf("expected 1 action, got %v", d.Actions)
	}
	if d.Actions[0].Kind != Think || d.Actions[0].Body != "ok" {
		t.Errorf("unexpected action: %+v", d.Actions[0])
	}
	if d.Preamble != "THINK about it\nREAD_FILES:\n" {
		t.Errorf("preamble = %q", d.Preamble)
	}
}

func TestUnknownTokenIsText(t *testing.T) {
	d := Parse("THINK\nx\nLAUNCH_ROCKET\ny")
	if len(d.Actions) != 1 || d.Actions[0].Body != "x\nLAUNCH_ROCKET\ny" {
		t.Errorf("unexpected: %+v", d.Actions)
	}
}

func TestFailsafe(t *testing.T) {
	d := Parse("TALK_TO_USER\nhi\nRUN_SHELL_COMMAND\nls")
	a, ok := d.Failsafe()
	if !ok || a.Kind != RunCommand || a.Body != "ls" {
		t.Errorf("Failsafe = %+v, %v", a, ok)
	}
	if len(d.Actions) != 2 {
		t.Errorf("failsafe must not add actions: %v", d.Actions)
	}

	if _, ok := Parse("THINK\nx\nTALK_TO_USER\nhi").Failsafe(); ok {
		t.Error("failsafe only applies when Talk leads")
	}
}

func TestCRLF(t *testing.T) {
	d := Parse("RATIONALE\r\nwhy\r\nTHINK\r\nbody\r\n")
	if len(d.Actions) != 1 || d.Actions[0].Kind != Think {
		t.Fatalf("unexpected: %+v", d.Actions)
	}
}

func TestVocabularyClosed(t *testing.T) {
	if len(Kinds()) != 27 {
		t.Errorf("vocabulary size = %d", len(Kinds()))
	}
	if Kind("LAUNCH_ROCKET").Valid() {
		t.Error("unknown kind reported valid")
	}
	if k, ok := Lookup("SLEEP"); !ok || k != Sleep {
		t.Error("Lookup(SLEEP) failed")
	}
}
