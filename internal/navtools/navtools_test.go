package navtools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/rlm/internal/corpus"
)

func mustTools(t *testing.T) *Tools {
	t.Helper()
	dir := t.TempDir()
	mustWrite(t, dir, "main.go", "package main\n\nfunc Greet(name string) string {\n\treturn \"hi \" + name\n}\n\ntype Config struct {\n\tName string\n}\n")
	mustWrite(t, dir, "docs/notes.md", "# Overview\n\nSome text mentioning café.\n\n## Details\n\nMore words here about greeting logic.\n")
	src, err := corpus.New(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	return New(src, 10, 10000)
}

func mustWrite(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNavOutlineListsGoSymbols(t *testing.T) {
	tools := mustTools(t)
	outline, nerr := tools.NavOutline()
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	var found bool
	for _, f := range outline.Files {
		if f.Path != "main.go" {
			continue
		}
		found = true
		names := map[string]bool{}
		for _, s := range f.Symbols {
			names[s.Name] = true
		}
		if !names["Greet"] || !names["Config"] {
			t.Fatalf("expected Greet and Config symbols, got %v", f.Symbols)
		}
	}
	if !found {
		t.Fatalf("expected main.go in outline")
	}
}

func TestNavOutlineListsMarkdownHeadings(t *testing.T) {
	tools := mustTools(t)
	outline, nerr := tools.NavOutline()
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	for _, f := range outline.Files {
		if f.Path != "docs/notes.md" {
			continue
		}
		if len(f.Symbols) != 2 {
			t.Fatalf("expected 2 headings, got %v", f.Symbols)
		}
		if f.Symbols[0].Name != "Overview" || f.Symbols[1].Name != "Details" {
			t.Fatalf("unexpected heading names: %v", f.Symbols)
		}
	}
}

func TestNavLsRejectsTraversal(t *testing.T) {
	tools := mustTools(t)
	if _, nerr := tools.NavLs("../../etc"); nerr == nil || nerr.Code != "path_denied" {
		t.Fatalf("expected path_denied, got %v", nerr)
	}
}

func TestNavReadClampsOutOfRangeLines(t *testing.T) {
	tools := mustTools(t)
	start, end := 1, 1000
	res, nerr := tools.NavRead("main.go", &start, &end)
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	if !res.Clamped {
		t.Fatalf("expected clamped result")
	}
}

func TestNavReadHandlesUnicodeColumns(t *testing.T) {
	tools := mustTools(t)
	res, nerr := tools.NavRead("docs/notes.md", nil, nil)
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	if res.Text == "" {
		t.Fatalf("expected non-empty read")
	}
}

func TestNavSearchRankingIsDeterministic(t *testing.T) {
	tools := mustTools(t)
	first, nerr := tools.NavSearch("greeting", SearchText)
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	second, nerr := tools.NavSearch("greeting", SearchText)
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	if len(first) != len(second) {
		t.Fatalf("expected stable result count")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected identical ranking across calls, got %v vs %v", first, second)
		}
	}
}

func TestNavSearchCapsAtMaxResults(t *testing.T) {
	tools := mustTools(t)
	tools.maxNavResults = 1
	results, nerr := tools.NavSearch("e", SearchText)
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	if len(results) > 1 {
		t.Fatalf("expected at most 1 result, got %d", len(results))
	}
}

func TestNavInfoReportsLanguage(t *testing.T) {
	tools := mustTools(t)
	info, nerr := tools.NavInfo("main.go")
	if nerr != nil {
		t.Fatalf("unexpected error: %v", nerr)
	}
	if info.Language != "go" {
		t.Fatalf("expected go language, got %s", info.Language)
	}
}
