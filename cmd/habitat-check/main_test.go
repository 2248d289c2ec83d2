package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunReportsCleanTables(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(&out, &errOut); code != 0 {
		t.Fatalf("run returned %d, stderr: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "habitat types ok") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if errOut.Len() != 0 {
		t.Fatalf("expected empty stderr, got %q", errOut.String())
	}
}

func TestCheckTablesFindsNoProblems(t *testing.T) {
	if problems := checkTables(); len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
}

func TestCheckSubstitutesRejectsUnknownType(t *testing.T) {
	problems := checkSubstitutes("savannah")
	if len(problems) == 0 {
		t.Fatal("expected a problem for an unknown habitat type")
	}
}
