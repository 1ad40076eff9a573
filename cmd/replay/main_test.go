package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fixture = "../../internal/replay/testdata/debugging_session.yaml"

func TestFixtureModeMatches(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--fixture", fixture})

	if code := run(cmd); code != 0 {
		t.Fatalf("exit code = %d, want 0\n%s", code, buf.String())
	}
	out := buf.String()
	if !strings.Contains(out, "All expectations met.") {
		t.Errorf("expected all expectations met, got:\n%s", out)
	}
	if !strings.Contains(out, "1 blocked") {
		t.Errorf("expected one blocked submission in summary, got:\n%s", out)
	}
}

func TestFixtureModeDiverges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diverge.yaml")
	data := `
submissions:
  - id: s1
    text: "How do I start this exercise?"
expected:
  - id: s1
    state: validation
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--fixture", path})

	if code := run(cmd); code != 1 {
		t.Fatalf("exit code = %d, want 1\n%s", code, buf.String())
	}
	if !strings.Contains(buf.String(), `state expected "validation"`) {
		t.Errorf("expected a state mismatch, got:\n%s", buf.String())
	}
}

func TestUsageError(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", "x.db"})

	if code := run(cmd); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(buf.String(), "usage:") {
		t.Errorf("expected usage, got: %s", buf.String())
	}
}
