// Package intercept implements the call interception layer: it rewrites
// model-generated code snippets so that every whitelisted tool
// invocation becomes a placeholder assignment the sandbox executor can
// resolve to a real result after the fact, instead of letting the
// snippet call anything live.
package intercept

import (
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// Call is one recognized `TARGET = TOOL(ARGS)` statement extracted from
// a snippet. Args are the statically-evaluated literal argument values,
// in source order; Placeholder is the fresh identifier substituted for
// TOOL(ARGS) in the rewritten source.
type Call struct {
	Placeholder string
	Target      string
	Tool        string
	Args        []ArgValue
	Line        int
}

// ArgValue is a statically-evaluated argument: exactly one of its
// fields is set, matching the literal kind found in source.
type ArgValue struct {
	Kind   string // string | int | float | bool | nil | ident
	String string
	Int    int64
	Float  float64
	Bool   bool
	Ident  string // set when Kind == "ident": a reference to a prior target
}

// BadCallError marks a snippet containing a tool-call shape the
// interceptor refuses to rewrite: a bare call, a call nested inside
// another expression, a call inside a loop or conditional, multiple
// calls on one line, or a call with non-literal, non-prior-target
// arguments. The policy is conservative: any one bad call rejects the
// whole snippet rather than rewriting the rest around it.
type BadCallError struct {
	Reason string
	Line   int
}

func (e *BadCallError) Error() string {
	return fmt.Sprintf("bad_call: line %d: %s", e.Line, e.Reason)
}

// Rewrite parses source as a function body, locates every call to a
// name in toolNames, and rewrites each eligible `TARGET = TOOL(ARGS)`
// statement into `TARGET := __rlm_result_N` (N is a fresh, monotonic
// counter local to this call). It returns the rewritten source text and
// the ordered list of Calls the executor must resolve before running
// the rewritten code. A source with no recognized tool calls at all is
// returned unchanged with an empty Calls slice — plain computation
// needs no interception.
func Rewrite(source string, toolNames map[string]bool) (string, []Call, error) {
	wrapped := "package snippet\n\nfunc __rlm_snippet() {\n" + source + "\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", wrapped, parser.ParseComments)
	if err != nil {
		return "", nil, &BadCallError{Reason: "snippet does not parse: " + err.Error()}
	}

	fn := file.Decls[0].(*ast.FuncDecl)

	if err := rejectNestedCalls(fn.Body, toolNames, fset); err != nil {
		return "", nil, err
	}

	var calls []Call
	counter := 0

	for _, stmt := range fn.Body.List {
		assign, ok := stmt.(*ast.AssignStmt)
		if !ok {
			continue
		}
		if len(assign.Rhs) != 1 || len(assign.Lhs) != 1 {
			continue
		}
		callExpr, ok := assign.Rhs[0].(*ast.CallExpr)
		if !ok {
			continue
		}
		toolName := callName(callExpr)
		if toolName == "" || !toolNames[toolName] {
			continue
		}

		targetIdent, ok := assign.Lhs[0].(*ast.Ident)
		if !ok {
			return "", nil, &BadCallError{
				Reason: "tool call target must be a simple identifier",
				Line:   fset.Position(stmt.Pos()).Line,
			}
		}

		args, err := staticArgs(callExpr.Args, calls)
		if err != nil {
			return "", nil, &BadCallError{
				Reason: err.Error(),
				Line:   fset.Position(stmt.Pos()).Line,
			}
		}

		placeholder := fmt.Sprintf("__rlm_result_%d", counter)
		counter++

		calls = append(calls, Call{
			Placeholder: placeholder,
			Target:      targetIdent.Name,
			Tool:        toolName,
			Args:        args,
			Line:        fset.Position(stmt.Pos()).Line,
		})

		// Keep the original token (":=" vs "=") so a first-use declaration
		// stays a declaration; only the right-hand side is replaced.
		assign.Rhs[0] = ast.NewIdent(placeholder)
	}

	var buf strings.Builder
	if err := format.Node(&buf, fset, fn.Body); err != nil {
		return "", nil, fmt.Errorf("intercept: render rewritten body: %w", err)
	}
	body := stripBraces(buf.String())
	return body, calls, nil
}

// stripBraces removes the outer "{" / "}" that format.Node includes
// when rendering a *ast.BlockStmt, so the caller can splice the bare
// statement list into its own wrapper.
func stripBraces(rendered string) string {
	trimmed := strings.TrimSpace(rendered)
	trimmed = strings.TrimPrefix(trimmed, "{")
	trimmed = strings.TrimSuffix(trimmed, "}")
	return strings.TrimSpace(trimmed)
}

// rejectNestedCalls walks the whole body looking for a tool call shape
// the top-level rewrite pass above does not handle: a call inside an
// expression other than a bare assignment RHS, or one reached through a
// loop/conditional/func-literal. Any match is a BadCallError — the
// conservative, whole-snippet-reject policy.
func rejectNestedCalls(body *ast.BlockStmt, toolNames map[string]bool, fset *token.FileSet) error {
	var err error

	ast.Inspect(body, func(n ast.Node) bool {
		if err != nil {
			return false
		}
		switch stmt := n.(type) {
		case *ast.ForStmt, *ast.RangeStmt, *ast.IfStmt, *ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.FuncLit, *ast.GoStmt:
			if containsToolCall(stmt, toolNames) {
				err = &BadCallError{
					Reason: "tool calls may not appear inside loops, conditionals, or nested functions",
					Line:   fset.Position(n.Pos()).Line,
				}
				return false
			}
		case *ast.AssignStmt:
			// Top-level assignments are handled by the main rewrite pass;
			// here we only need to catch multi-call-per-line shapes: more
			// than one CallExpr anywhere in the RHS list, or a call
			// expression that is not the direct, sole RHS.
			directCalls := 0
			if len(stmt.Rhs) == 1 {
				if call, ok := stmt.Rhs[0].(*ast.CallExpr); ok && toolNames[callName(call)] {
					directCalls++
				}
			}
			total := countToolCalls(stmt, toolNames)
			if total > directCalls {
				err = &BadCallError{
					Reason: "at most one tool call is allowed per statement, and it must be the entire right-hand side",
					Line:   fset.Position(stmt.Pos()).Line,
				}
				return false
			}
		case *ast.ExprStmt:
			if countToolCalls(stmt, toolNames) > 0 {
				err = &BadCallError{
					Reason: "a tool call result must be assigned to a variable, not used as a bare statement",
					Line:   fset.Position(stmt.Pos()).Line,
				}
				return false
			}
		}
		return true
	})
	return err
}

func containsToolCall(n ast.Node, toolNames map[string]bool) bool {
	return countToolCalls(n, toolNames) > 0
}

func countToolCalls(n ast.Node, toolNames map[string]bool) int {
	count := 0
	ast.Inspect(n, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpr)
		if !ok {
			return true
		}
		if toolNames[callName(call)] {
			count++
		}
		return true
	})
	return count
}

func callName(call *ast.CallExpr) string {
	ident, ok := call.Fun.(*ast.Ident)
	if !ok {
		return ""
	}
	return ident.Name
}

// staticArgs evaluates each call argument to a literal value, or to a
// reference to the target of a prior intercepted call (so one tool
// result can feed another tool's argument without a live call chain).
// Any other shape — a binary expression, a further nested call, a
// selector, etc. — is rejected.
func staticArgs(exprs []ast.Expr, prior []Call) ([]ArgValue, error) {
	priorTargets := map[string]bool{}
	for _, c := range prior {
		priorTargets[c.Target] = true
	}

	out := make([]ArgValue, 0, len(exprs))
	for _, e := range exprs {
		switch v := e.(type) {
		case *ast.BasicLit:
			val, err := literalValue(v)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		case *ast.Ident:
			if v.Name == "nil" {
				out = append(out, ArgValue{Kind: "nil"})
				continue
			}
			if v.Name == "true" || v.Name == "false" {
				out = append(out, ArgValue{Kind: "bool", Bool: v.Name == "true"})
				continue
			}
			if !priorTargets[v.Name] {
				return nil, fmt.Errorf("argument %q is not a literal or a prior tool-call result", v.Name)
			}
			out = append(out, ArgValue{Kind: "ident", Ident: v.Name})
		default:
			return nil, fmt.Errorf("tool call arguments must be literals or prior results, found a computed expression")
		}
	}
	return out, nil
}

func literalValue(lit *ast.BasicLit) (ArgValue, error) {
	switch lit.Kind {
	case token.STRING:
		unquoted, err := strconv.Unquote(lit.Value)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid string literal: %w", err)
		}
		return ArgValue{Kind: "string", String: unquoted}, nil
	case token.INT:
		n, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid int literal: %w", err)
		}
		return ArgValue{Kind: "int", Int: n}, nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return ArgValue{}, fmt.Errorf("invalid float literal: %w", err)
		}
		return ArgValue{Kind: "float", Float: f}, nil
	default:
		return ArgValue{}, fmt.Errorf("unsupported literal kind %v", lit.Kind)
	}
}
