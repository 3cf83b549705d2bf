// Package navtools implements the navigation tool surface (outline,
// ls, read, search, info) over a corpus.Source. Every call here is
// idempotent and side-effect-free, as required by the specification
// this module realizes.
package navtools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/rlm/internal/corpus"
)

// NavError is the tagged error value navigation calls return instead of
// panicking; callers serialize it into the typed placeholder the
// interception layer hands back to sandboxed code.
type NavError struct {
	Code   string
	Detail string
}

func (e *NavError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Detail) }

func pathDenied(err error) *NavError {
	return &NavError{Code: "path_denied", Detail: err.Error()}
}

// Tools bundles the navigation capability set over one corpus.
type Tools struct {
	source          *corpus.Source
	maxNavResults   int
	maxContextChars int
}

// New constructs a Tools surface. maxNavResults caps nav_search results;
// maxContextChars caps the total size of a nav_read slice.
func New(source *corpus.Source, maxNavResults int, maxContextChars int) *Tools {
	return &Tools{
		source:          source,
		maxNavResults:   maxNavResults,
		maxContextChars: maxContextChars,
	}
}

// FileOutline summarizes one file: its size and top-level symbols.
type FileOutline struct {
	Path    string   `json:"path"`
	Size    int64    `json:"size"`
	Symbols []Symbol `json:"symbols,omitempty"`
}

// Outline is the structured summary of the whole tree.
type Outline struct {
	Root  string        `json:"root"`
	Files []FileOutline `json:"files"`
}

// NavOutline returns directories and top-level symbols per file.
func (t *Tools) NavOutline() (*Outline, *NavError) {
	entries, err := t.source.Walk()
	if err != nil {
		return nil, &NavError{Code: "internal_error", Detail: err.Error()}
	}
	out := &Outline{Root: t.source.Root()}
	for _, e := range entries {
		fo := FileOutline{Path: e.Path, Size: e.Size}
		if syms, err := symbolsForFile(t.source, e.Path); err == nil {
			fo.Symbols = syms
		}
		out.Files = append(out.Files, fo)
	}
	return out, nil
}

// ListEntry is one row of a directory listing.
type ListEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // file | directory
}

// NavLs lists the immediate children of path.
func (t *Tools) NavLs(path string) ([]ListEntry, *NavError) {
	children, err := t.source.ListDir(path)
	if err != nil {
		if pe, ok := err.(*corpus.PathDeniedError); ok {
			return nil, pathDenied(pe)
		}
		return nil, &NavError{Code: "internal_error", Detail: err.Error()}
	}
	out := make([]ListEntry, 0, len(children))
	for _, c := range children {
		out = append(out, ListEntry{Name: c.Name, Kind: c.Kind})
	}
	return out, nil
}

// ReadResult is the line-addressed slice nav_read returns.
type ReadResult struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Text      string `json:"text"`
	Clamped   bool   `json:"clamped"`
}

// NavRead returns a 1-based, inclusive line range. A nil lineStart/
// lineEnd means "from the beginning"/"to the end" respectively.
// Out-of-range bounds clamp to the file's actual extent and Clamped is
// set to true rather than erroring.
func (t *Tools) NavRead(path string, lineStart, lineEnd *int) (*ReadResult, *NavError) {
	data, err := t.source.ReadBounded(path)
	if err != nil {
		switch e := err.(type) {
		case *corpus.PathDeniedError:
			return nil, pathDenied(e)
		case *corpus.FileTooLargeError:
			return nil, &NavError{Code: "file_too_large", Detail: e.Error()}
		default:
			return nil, &NavError{Code: "internal_error", Detail: err.Error()}
		}
	}
	lines := strings.Split(string(data), "\n")
	total := len(lines)

	start := 1
	if lineStart != nil {
		start = *lineStart
	}
	end := total
	if lineEnd != nil {
		end = *lineEnd
	}

	clamped := false
	if start < 1 {
		start = 1
		clamped = true
	}
	if end > total {
		end = total
		clamped = true
	}
	if start > total {
		start = total
		clamped = true
	}
	if end < start {
		end = start
		clamped = true
	}

	slice := lines[start-1 : end]
	text := strings.Join(slice, "\n")
	if int64(len(text)) > int64(t.maxContextChars) && t.maxContextChars > 0 {
		text = string([]rune(text)[:t.maxContextChars])
		clamped = true
	}

	return &ReadResult{Path: path, LineStart: start, LineEnd: end, Text: text, Clamped: clamped}, nil
}

// SearchKind selects text vs symbol search.
type SearchKind string

const (
	SearchText   SearchKind = "text"
	SearchSymbol SearchKind = "symbol"
)

// SearchResult is one ranked hit.
type SearchResult struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Preview   string `json:"preview"`
}

// NavSearch ranks hits deterministically: exact substring matches first,
// then by descending token-overlap count, then by path lexical order as
// a final tiebreak. Capped at maxNavResults.
func (t *Tools) NavSearch(query string, kind SearchKind) ([]SearchResult, *NavError) {
	if kind == "" {
		kind = SearchText
	}
	entries, err := t.source.Walk()
	if err != nil {
		return nil, &NavError{Code: "internal_error", Detail: err.Error()}
	}

	type scored struct {
		result   SearchResult
		exact    bool
		overlap  int
	}
	var hits []scored
	queryTokens := tokenize(query)

	for _, e := range entries {
		data, rerr := t.source.ReadBounded(e.Path)
		if rerr != nil {
			continue
		}
		text := string(data)
		lines := strings.Split(text, "\n")

		if kind == SearchSymbol {
			syms, serr := symbolsForFile(t.source, e.Path)
			if serr != nil {
				continue
			}
			for _, sym := range syms {
				if !strings.Contains(strings.ToLower(sym.Name), strings.ToLower(query)) {
					continue
				}
				hits = append(hits, scored{
					result: SearchResult{Path: e.Path, LineStart: sym.Line, LineEnd: sym.Line, Preview: sym.Name},
					exact:  strings.EqualFold(sym.Name, query),
				})
			}
			continue
		}

		for i, line := range lines {
			lower := strings.ToLower(line)
			exact := strings.Contains(lower, strings.ToLower(query))
			overlap := tokenOverlap(queryTokens, tokenize(line))
			if !exact && overlap == 0 {
				continue
			}
			hits = append(hits, scored{
				result:  SearchResult{Path: e.Path, LineStart: i + 1, LineEnd: i + 1, Preview: strings.TrimSpace(line)},
				exact:   exact,
				overlap: overlap,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].exact != hits[j].exact {
			return hits[i].exact
		}
		if hits[i].overlap != hits[j].overlap {
			return hits[i].overlap > hits[j].overlap
		}
		if hits[i].result.Path != hits[j].result.Path {
			return hits[i].result.Path < hits[j].result.Path
		}
		return hits[i].result.LineStart < hits[j].result.LineStart
	})

	limit := t.maxNavResults
	if limit <= 0 || limit > len(hits) {
		limit = len(hits)
	}
	out := make([]SearchResult, 0, limit)
	for _, h := range hits[:limit] {
		out = append(out, h.result)
	}
	return out, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'))
	})
	for i := range fields {
		fields[i] = strings.ToLower(fields[i])
	}
	return fields
}

func tokenOverlap(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	n := 0
	for _, t := range b {
		if set[t] {
			n++
		}
	}
	return n
}

// Info is the metadata nav_info returns for a path or symbol.
type Info struct {
	Path     string   `json:"path"`
	Size     int64    `json:"size"`
	Language string   `json:"language"`
	Symbols  []Symbol `json:"symbols,omitempty"`
}

// NavInfo returns size/language/declared-symbol metadata for a path.
func (t *Tools) NavInfo(path string) (*Info, *NavError) {
	entry, err := t.source.Stat(path)
	if err != nil {
		if pe, ok := err.(*corpus.PathDeniedError); ok {
			return nil, pathDenied(pe)
		}
		return nil, &NavError{Code: "internal_error", Detail: err.Error()}
	}
	syms, _ := symbolsForFile(t.source, path)
	return &Info{
		Path:     entry.Path,
		Size:     entry.Size,
		Language: languageForPath(entry.Path),
		Symbols:  syms,
	}, nil
}

func languageForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".md"):
		return "markdown"
	case strings.HasSuffix(path, ".py"):
		return "python"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".ts"):
		return "javascript"
	default:
		return "text"
	}
}
