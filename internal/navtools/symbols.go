package navtools

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"github.com/haasonsaas/rlm/internal/corpus"
)

// Symbol is one top-level declaration or heading found in a file. Line
// and Column are 1-based and character (rune), never byte, offsets —
// required so multi-byte UTF-8 source still addresses the right
// column under nav_read.
type Symbol struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"` // func | type | const | var | heading | section
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// symbolsForFile dispatches on extension: Go source is parsed with
// go/parser for an accurate top-level declaration list; everything
// else falls back to a line/regex heading scanner.
func symbolsForFile(source *corpus.Source, path string) ([]Symbol, error) {
	data, err := source.ReadBounded(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".go") {
		return goSymbols(path, data)
	}
	if strings.HasSuffix(path, ".md") || strings.HasSuffix(path, ".markdown") {
		return markdownSymbols(string(data)), nil
	}
	return textSymbols(string(data)), nil
}

// goSymbols extracts top-level func/type/const/var declarations using
// go/parser. Byte offsets reported by go/token.FileSet are converted
// to rune columns so offsets remain valid for non-ASCII identifiers
// and comments preceding a declaration.
func goSymbols(path string, data []byte) ([]Symbol, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, data, parser.SkipObjectResolution)
	if err != nil {
		// A syntactically broken snippet still has an outline: fall back
		// to the generic text scanner rather than erroring the whole
		// outline/search pass.
		return textSymbols(string(data)), nil
	}

	var lineStarts []int // byte offset of start of each line, for rune-column conversion
	lineStarts = append(lineStarts, 0)
	for i, b := range data {
		if b == '\n' {
			lineStarts = append(lineStarts, i+1)
		}
	}
	runeColumn := func(pos token.Position) int {
		lineIdx := pos.Line - 1
		if lineIdx < 0 || lineIdx >= len(lineStarts) {
			return pos.Column
		}
		lineStart := lineStarts[lineIdx]
		byteCol := pos.Offset - lineStart
		if byteCol < 0 || lineStart+byteCol > len(data) {
			return pos.Column
		}
		return len([]rune(string(data[lineStart : lineStart+byteCol]))) + 1
	}

	var syms []Symbol
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			pos := fset.Position(d.Name.Pos())
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				name = receiverPrefix(d.Recv.List[0].Type) + "." + name
			}
			syms = append(syms, Symbol{Name: name, Kind: "func", Line: pos.Line, Column: runeColumn(pos)})
		case *ast.GenDecl:
			kind := "var"
			switch d.Tok {
			case token.CONST:
				kind = "const"
			case token.TYPE:
				kind = "type"
			case token.IMPORT:
				continue
			}
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					pos := fset.Position(s.Name.Pos())
					syms = append(syms, Symbol{Name: s.Name.Name, Kind: kind, Line: pos.Line, Column: runeColumn(pos)})
				case *ast.ValueSpec:
					for _, nameIdent := range s.Names {
						pos := fset.Position(nameIdent.Pos())
						syms = append(syms, Symbol{Name: nameIdent.Name, Kind: kind, Line: pos.Line, Column: runeColumn(pos)})
					}
				}
			}
		}
	}
	return syms, nil
}

func receiverPrefix(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.StarExpr:
		return receiverPrefix(e.X)
	case *ast.Ident:
		return e.Name
	default:
		return "?"
	}
}

var markdownHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// markdownSymbols extracts ATX headings as a flat outline.
func markdownSymbols(text string) []Symbol {
	var syms []Symbol
	for i, line := range strings.Split(text, "\n") {
		m := markdownHeadingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		syms = append(syms, Symbol{
			Name:   strings.TrimSpace(m[2]),
			Kind:   "heading",
			Line:   i + 1,
			Column: 1,
		})
	}
	return syms
}

var textSectionRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_ ]*):\s*$|^={3,}\s*$|^-{3,}\s*$`)

// textSymbols is a conservative fallback scanner for plain text or
// unrecognized source: it treats a line ending in ":" at column 1, or
// an underline of "="/"-", as a section marker worth surfacing in an
// outline. It never fails — an unstructured file simply yields none.
func textSymbols(text string) []Symbol {
	var syms []Symbol
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "" {
			continue
		}
		if textSectionRe.MatchString(trimmed) && strings.HasSuffix(trimmed, ":") {
			syms = append(syms, Symbol{
				Name:   strings.TrimSuffix(trimmed, ":"),
				Kind:   "section",
				Line:   i + 1,
				Column: 1,
			})
		}
	}
	return syms
}
