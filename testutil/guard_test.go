package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	src := `package probe

import (
	"fmt"

	"offsetcore/internal/match"
)

var _ = fmt.Sprint(match.DefaultMaxSuppliers)
`
	if err := os.WriteFile(filepath.Join(dir, "probe.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatal(err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "offsetcore/internal/match") {
		t.Fatalf("unexpected violations: %v", viols)
	}
}

func TestDirectImportViolationsSkipsTests(t *testing.T) {
	dir := t.TempDir()
	src := "package probe\n\nimport _ \"offsetcore/internal/match\"\n"
	if err := os.WriteFile(filepath.Join(dir, "probe_test.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatal(err)
	}
	if len(viols) != 0 {
		t.Fatalf("expected no violations, got %v", viols)
	}
}

func TestInternalImportForbidden(t *testing.T) {
	if InternalImportForbidden("github.com/shopspring/decimal") {
		t.Fatal("third party path flagged")
	}
	if !InternalImportForbidden("offsetcore/internal/supply") {
		t.Fatal("internal path not flagged")
	}
}
