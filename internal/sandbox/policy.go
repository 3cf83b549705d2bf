package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"
)

// CheckPolicy statically validates a rewritten snippet body against the
// request's security mode before any child is spawned, so a disallowed
// import never even reaches the sandbox. Strict mode requires every
// package qualifier the body references to resolve to an entry in
// AllowedModules; permissive mode (dev only) instead rejects any of
// BlockedNames appearing as an identifier anywhere in the source.
//
// The snippet body has no import declarations of its own — it is a
// bare statement list wrapped in a synthetic function so it parses —
// so module usage is detected from package-qualifier selectors
// (`pkg.Name`) rather than *ast.File.Imports, which is always empty
// for a function-body-only parse.
func CheckPolicy(source string, req *Request) error {
	fn, err := parseSnippetFunc(source)
	if err != nil {
		return fmt.Errorf("sandbox: policy check could not parse snippet: %w", err)
	}

	switch req.SecurityMode {
	case SecurityPermissive:
		return checkBlockedNames(fn.Body, req.BlockedNames)
	default:
		return checkAllowedModules(fn.Body, req.AllowedModules)
	}
}

// parseSnippetFunc wraps source in a synthetic function body so it
// parses as a standalone Go file, and returns that function's decl.
func parseSnippetFunc(source string) (*ast.FuncDecl, error) {
	wrapped := "package snippet\n\nfunc __rlm_snippet() {\n" + source + "\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", wrapped, 0)
	if err != nil {
		return nil, err
	}
	fn, ok := file.Decls[0].(*ast.FuncDecl)
	if !ok {
		return nil, fmt.Errorf("snippet wrapper produced no function declaration")
	}
	return fn, nil
}

func checkAllowedModules(body *ast.BlockStmt, allowed []string) error {
	allowedIdent := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		allowedIdent[packageIdent(m)] = true
	}

	idents := sortedKeys(usedIdents(body))
	for _, ident := range idents {
		if !allowedIdent[ident] {
			return &PolicyViolation{Detail: fmt.Sprintf("module %q is not in the allowed list", ident)}
		}
	}
	return nil
}

func checkBlockedNames(body ast.Node, blocked []string) error {
	blockedSet := make(map[string]bool, len(blocked))
	for _, n := range blocked {
		blockedSet[n] = true
	}
	if len(blockedSet) == 0 {
		return nil
	}
	var violation string
	ast.Inspect(body, func(n ast.Node) bool {
		if violation != "" {
			return false
		}
		if ident, ok := n.(*ast.Ident); ok && blockedSet[ident.Name] {
			violation = ident.Name
		}
		return true
	})
	if violation != "" {
		return &PolicyViolation{Detail: fmt.Sprintf("%q is blocked in permissive mode", violation)}
	}
	return nil
}

// declaredNames collects every identifier a snippet body declares
// itself (`:=`, `var`, or a range loop's key/value), so usedIdents can
// tell a local variable used as a selector receiver (e.g. a struct
// field access) apart from a genuine package qualifier.
func declaredNames(body *ast.BlockStmt) map[string]bool {
	names := map[string]bool{}
	ast.Inspect(body, func(n ast.Node) bool {
		switch s := n.(type) {
		case *ast.AssignStmt:
			if s.Tok == token.DEFINE {
				for _, lhs := range s.Lhs {
					if id, ok := lhs.(*ast.Ident); ok {
						names[id.Name] = true
					}
				}
			}
		case *ast.ValueSpec:
			for _, id := range s.Names {
				names[id.Name] = true
			}
		case *ast.RangeStmt:
			if id, ok := s.Key.(*ast.Ident); ok {
				names[id.Name] = true
			}
			if id, ok := s.Value.(*ast.Ident); ok {
				names[id.Name] = true
			}
		}
		return true
	})
	return names
}

// usedIdents returns every identifier used as a selector qualifier
// (the "strings" in strings.ToUpper) that the body did not itself
// declare as a local variable — the set of package names a snippet
// actually exercises.
func usedIdents(body *ast.BlockStmt) map[string]bool {
	declared := declaredNames(body)
	used := map[string]bool{}
	ast.Inspect(body, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if ident, ok := sel.X.(*ast.Ident); ok && !declared[ident.Name] {
			used[ident.Name] = true
		}
		return true
	})
	return used
}

// packageIdent derives the conventional package identifier from an
// import path (the segment after the last "/"), matching how every
// default AllowedModules entry is a single-segment stdlib path whose
// identifier equals the path itself.
func packageIdent(importPath string) string {
	if i := strings.LastIndex(importPath, "/"); i >= 0 {
		return importPath[i+1:]
	}
	return importPath
}

// importsForSource resolves the subset of allowedModules a snippet
// body actually references, so the rendered program imports exactly
// what it uses instead of a hardcoded, always-present set. A snippet
// that references a qualifier outside allowedModules simply fails to
// compile with "undefined: x" — CheckPolicy is what is responsible for
// rejecting that snippet before it ever reaches here.
func importsForSource(source string, allowedModules []string) []string {
	fn, err := parseSnippetFunc(source)
	if err != nil {
		return nil
	}
	used := usedIdents(fn.Body)

	pathByIdent := make(map[string]string, len(allowedModules))
	for _, m := range allowedModules {
		pathByIdent[packageIdent(m)] = m
	}

	imports := make([]string, 0, len(used))
	for ident := range used {
		if path, ok := pathByIdent[ident]; ok {
			imports = append(imports, path)
		}
	}
	sort.Strings(imports)
	return imports
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
