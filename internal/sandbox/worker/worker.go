//go:build linux

// Package worker implements the snippet-execution logic run inside
// cmd/rlm-sandbox-worker: write a temporary Go program, run it with go
// run under a watchdog and rlimit-backed memory cap, and return bounded
// stdout/stderr. It is imported only by that command's main package and
// by sandbox.Process for in-process testing of the same code path.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/haasonsaas/rlm/internal/sandbox/protocol"
)

// Run executes one ExecuteRequest and returns its ExecuteResponse. It
// never returns an error for a snippet that fails on its own terms
// (non-zero exit, timeout, panic) — those are reported in the
// response; Run only errors on a setup failure (e.g. cannot create the
// temp directory) that prevents the snippet from running at all.
func Run(ctx context.Context, req *protocol.ExecuteRequest) (*protocol.ExecuteResponse, error) {
	start := time.Now()

	dir, err := os.MkdirTemp("", "rlm-snippet-*")
	if err != nil {
		return nil, fmt.Errorf("worker: create workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	source := renderProgram(req.Source, req.InjectedBindings, req.AllowedModules, req.CaptureNames)
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(source), 0o600); err != nil {
		return nil, fmt.Errorf("worker: write main.go: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module rlmsnippet\n\ngo 1.24\n"), 0o600); err != nil {
		return nil, fmt.Errorf("worker: write go.mod: %w", err)
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "go", "run", "main.go")
	cmd.Dir = dir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"GOPROXY=off",
		"GOFLAGS=-mod=mod",
		"GOCACHE=" + filepath.Join(dir, ".gocache"),
		"CGO_ENABLED=0",
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	applyMemoryLimit(req.MaxMemoryBytes)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	rawStdout, captured := splitCapturedValues(stdout.String(), req.CaptureNames)
	boundedCaptured, capTrunc := boundCapturedValues(captured, req.MaxOutputChars)

	resp := &protocol.ExecuteResponse{
		ID:             req.ID,
		DurationMillis: duration.Milliseconds(),
		CapturedValues: boundedCaptured,
	}

	outText, outTrunc := boundOutput(rawStdout, req.MaxOutputChars)
	errText, errTrunc := boundOutput(stderr.String(), req.MaxOutputChars)
	resp.Stdout = outText
	resp.Stderr = errText
	resp.Truncated = outTrunc || errTrunc || capTrunc

	if runCtx.Err() == context.DeadlineExceeded {
		resp.Timeout = true
		resp.Error = "execution exceeded the configured timeout"
		killProcessGroup(cmd)
		return resp, nil
	}

	if runErr != nil {
		resp.Success = false
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			resp.ExitCode = exitErr.ExitCode()
		} else {
			resp.ExitCode = -1
		}
		resp.Error = runErr.Error()
		return resp, nil
	}

	resp.Success = true
	resp.ExitCode = 0
	return resp, nil
}

// renderProgram wraps the rewritten snippet body in a standalone
// main() with injected bindings declared as top-level string variables
// ahead of it, so the snippet can reference them by name. Only the
// subset of allowedModules the body actually references is imported;
// when captureNames is non-empty, the program appends a trailer that
// writes the requested identifiers' values to stdout as a delimited
// JSON blob after the snippet body finishes running.
func renderProgram(body string, bindings map[string]string, allowedModules []string, captureNames []string) string {
	var buf bytes.Buffer
	buf.WriteString("package main\n\n")

	imports := importsForSource(body, allowedModules)
	if len(captureNames) > 0 {
		imports = append(imports, "encoding/json", "os")
		sort.Strings(imports)
		imports = dedupeStrings(imports)
	}
	writeImportBlock(&buf, imports)

	buf.WriteString("func main() {\n")

	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "\t%s := %s\n", k, strconv.Quote(bindings[k]))
		fmt.Fprintf(&buf, "\t_ = %s\n", k)
	}

	buf.WriteString(body)
	buf.WriteString("\n")

	if len(captureNames) > 0 {
		names := append([]string(nil), captureNames...)
		sort.Strings(names)
		buf.WriteString("\t__rlm_captured := map[string]string{\n")
		for _, name := range names {
			fmt.Fprintf(&buf, "\t\t%s: %s,\n", strconv.Quote(name), name)
		}
		buf.WriteString("\t}\n")
		buf.WriteString("\t__rlm_capturedJSON, _ := json.Marshal(__rlm_captured)\n")
		fmt.Fprintf(&buf, "\tos.Stdout.WriteString(%s)\n", strconv.Quote(protocol.CaptureDelimiter))
		buf.WriteString("\tos.Stdout.Write(__rlm_capturedJSON)\n")
	}

	buf.WriteString("}\n")
	return buf.String()
}

// writeImportBlock emits a parenthesized import declaration, or
// nothing at all when imports is empty (a snippet that references no
// allowed package needs no import block).
func writeImportBlock(buf *bytes.Buffer, imports []string) {
	if len(imports) == 0 {
		return
	}
	buf.WriteString("import (\n")
	for _, imp := range imports {
		fmt.Fprintf(buf, "\t%s\n", strconv.Quote(imp))
	}
	buf.WriteString(")\n\n")
}

func dedupeStrings(in []string) []string {
	out := in[:0]
	var last string
	for i, s := range in {
		if i > 0 && s == last {
			continue
		}
		out = append(out, s)
		last = s
	}
	return out
}

// splitCapturedValues separates a snippet's real stdout from the
// trailing captured-values JSON blob renderProgram appended, when the
// request asked for any captures. A snippet that panics or exits
// before reaching the trailer simply has no delimiter in its output,
// so captures come back empty rather than erroring.
func splitCapturedValues(raw string, captureNames []string) (string, map[string]string) {
	if len(captureNames) == 0 {
		return raw, nil
	}
	idx := strings.Index(raw, protocol.CaptureDelimiter)
	if idx < 0 {
		return raw, nil
	}
	stdout := raw[:idx]
	blob := raw[idx+len(protocol.CaptureDelimiter):]
	var captured map[string]string
	if err := json.Unmarshal([]byte(blob), &captured); err != nil {
		return stdout, nil
	}
	return stdout, captured
}

// boundCapturedValues bounds each captured value independently, the
// same per-field truncation boundOutput applies to stdout/stderr, so a
// single oversize captured variable cannot blow the turn's output
// budget for everything else in the response.
func boundCapturedValues(values map[string]string, maxChars int) (map[string]string, bool) {
	if len(values) == 0 {
		return nil, false
	}
	truncated := false
	bounded := make(map[string]string, len(values))
	for k, v := range values {
		bv, t := boundOutput(v, maxChars)
		bounded[k] = bv
		if t {
			truncated = true
		}
	}
	return bounded, truncated
}

func boundOutput(s string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s, false
	}
	return string(runes[:maxChars]), true
}

// applyMemoryLimit sets RLIMIT_AS on the worker's own process before it
// forks the `go run` child; POSIX rlimits are inherited across exec, so
// bounding the worker here bounds the compiler and the snippet binary
// it spawns. Best-effort: a platform that refuses the syscall still
// runs the snippet, just without the memory cap.
func applyMemoryLimit(maxBytes int64) {
	if maxBytes <= 0 {
		return
	}
	limit := &unix.Rlimit{Cur: uint64(maxBytes), Max: uint64(maxBytes)}
	_ = unix.Setrlimit(unix.RLIMIT_AS, limit)
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// The helpers below mirror sandbox.CheckPolicy's package-qualifier
// detection (declaredNames/usedIdents/packageIdent/importsForSource).
// Duplicated rather than imported because this package is linux-only
// while sandbox must stay buildable on any host OS for the Daytona
// backend; see renderRemoteProgram in daytona.go for the same
// rationale on that side.

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

func packageIdent(importPath string) string {
	if i := strings.LastIndex(importPath, "/"); i >= 0 {
		return importPath[i+1:]
	}
	return importPath
}

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
