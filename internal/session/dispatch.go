package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/haasonsaas/rlm/internal/budget"
	"github.com/haasonsaas/rlm/internal/intercept"
	"github.com/haasonsaas/rlm/internal/llm"
	"github.com/haasonsaas/rlm/internal/navtools"
)

// maxConcurrentSubCalls bounds how many llm_query calls from one turn
// run at once, the same fixed-size-semaphore idiom the agent executor
// uses for its own tool fan-out rather than an errgroup.
const maxConcurrentSubCalls = 4

// callOutcome is what resolveCalls records per Call.Target so a later
// call in the same pass may reference it as an Ident argument.
type callOutcome struct {
	value string
}

// resolveCalls dispatches every intercepted tool call from one
// snippet in two passes: nav_* calls resolve inline, synchronously,
// in source order (cheap, side-effect-free reads over the corpus);
// llm_query calls then fan out concurrently with each other, bounded
// by maxConcurrentSubCalls, since they are the one tool that costs
// real model budget and latency. A call in the second pass may
// reference a first-pass result by Ident; llm_query results are not
// visible to each other within the same turn, matching the
// specification's "sub-calls gathered before the rewritten snippet is
// handed to the sandbox" framing.
//
// Every resolved value is placed into the bindings map as a plain
// string — nav_* results JSON-encode their structured payload since
// the sandbox's injected-bindings mechanism only supports string-typed
// variables, while llm_query's result is already the text to bind.
// A non-nil halt means a sub-call exhausted the budget mid-turn; the
// caller must terminate the session rather than run the snippet.
func (s *Session) resolveCalls(ctx context.Context, calls []intercept.Call) (map[string]string, []string, *budget.Halt) {
	bindings := make(map[string]string, len(calls))
	resolved := make(map[string]callOutcome, len(calls))
	var toolErrs []string

	var navCalls, subCalls []intercept.Call
	for _, c := range calls {
		if c.Tool == "llm_query" {
			subCalls = append(subCalls, c)
		} else {
			navCalls = append(navCalls, c)
		}
	}

	for _, c := range navCalls {
		value, errMsg := s.dispatchNav(c, resolved)
		bindings[c.Placeholder] = value
		resolved[c.Target] = callOutcome{value: value}
		if errMsg != "" {
			toolErrs = append(toolErrs, fmt.Sprintf("%s: %s", c.Tool, errMsg))
		}
	}

	if len(subCalls) == 0 {
		return bindings, toolErrs, nil
	}

	type subOutcome struct {
		call   intercept.Call
		value  string
		errMsg string
		halt   *budget.Halt
	}

	outcomes := make([]subOutcome, len(subCalls))
	sem := make(chan struct{}, maxConcurrentSubCalls)
	var wg sync.WaitGroup

	for i, c := range subCalls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c intercept.Call) {
			defer wg.Done()
			defer func() { <-sem }()
			value, errMsg, halt := s.dispatchSubQuery(ctx, c, resolved)
			outcomes[i] = subOutcome{call: c, value: value, errMsg: errMsg, halt: halt}
		}(i, c)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.halt != nil {
			return bindings, toolErrs, o.halt
		}
	}

	for _, o := range outcomes {
		bindings[o.call.Placeholder] = o.value
		resolved[o.call.Target] = callOutcome{value: o.value}
		if o.errMsg != "" {
			toolErrs = append(toolErrs, fmt.Sprintf("llm_query: %s", o.errMsg))
		}
	}

	return bindings, toolErrs, nil
}

func (s *Session) dispatchNav(c intercept.Call, resolved map[string]callOutcome) (string, string) {
	switch c.Tool {
	case "nav_outline":
		out, navErr := s.cfg.Tools.NavOutline()
		return encodeNavResult(out, navErr)
	case "nav_ls":
		path := argAt(c.Args, 0, resolved)
		entries, navErr := s.cfg.Tools.NavLs(path)
		return encodeNavResult(entries, navErr)
	case "nav_read":
		path := argAt(c.Args, 0, resolved)
		var lineStart, lineEnd *int
		if v, ok := intArgAt(c.Args, 1, resolved); ok {
			lineStart = &v
		}
		if v, ok := intArgAt(c.Args, 2, resolved); ok {
			lineEnd = &v
		}
		res, navErr := s.cfg.Tools.NavRead(path, lineStart, lineEnd)
		return encodeNavResult(res, navErr)
	case "nav_search":
		query := argAt(c.Args, 0, resolved)
		kind := navtools.SearchText
		if k := argAt(c.Args, 1, resolved); k == string(navtools.SearchSymbol) {
			kind = navtools.SearchSymbol
		}
		res, navErr := s.cfg.Tools.NavSearch(query, kind)
		return encodeNavResult(res, navErr)
	case "nav_info":
		path := argAt(c.Args, 0, resolved)
		res, navErr := s.cfg.Tools.NavInfo(path)
		return encodeNavResult(res, navErr)
	default:
		return encodeNavResult(nil, &navtools.NavError{Code: "internal_error", Detail: "unknown tool: " + c.Tool})
	}
}

func (s *Session) dispatchSubQuery(ctx context.Context, c intercept.Call, resolved map[string]callOutcome) (string, string, *budget.Halt) {
	prompt := argAt(c.Args, 0, resolved)
	maxTokens := s.cfg.MaxOutputTokens
	if v, ok := intArgAt(c.Args, 1, resolved); ok && v > 0 {
		maxTokens = v
	}

	estimate := s.cfg.Budget.Config().EstimateInputTokens(prompt)
	reservation, halt := s.cfg.Budget.ReserveSub(estimate)
	if halt != nil {
		return encodeToolError("budget_exhausted: " + string(halt.Kind)), "budget halt: " + string(halt.Kind), halt
	}

	req := &llm.Request{
		Model:       s.cfg.SubModel,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: s.cfg.Temperature,
	}
	resp, err := s.cfg.SubProvider.Complete(ctx, req)
	if err != nil {
		s.cfg.Budget.Release(reservation)
		return encodeToolError(err.Error()), err.Error(), nil
	}
	s.cfg.Budget.Commit(reservation, resp.InputTokens, resp.OutputTokens, s.cfg.SubModel)
	return resp.Text, "", nil
}

func encodeToolError(detail string) string {
	b, _ := json.Marshal(map[string]string{"error": detail, "kind": "model_error"})
	return string(b)
}

func encodeNavResult(value any, navErr *navtools.NavError) (string, string) {
	if navErr != nil {
		b, _ := json.Marshal(map[string]string{"error": navErr.Detail, "kind": navErr.Code})
		return string(b), navErr.Error()
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err.Error()
	}
	return string(b), ""
}

func argAt(args []intercept.ArgValue, i int, resolved map[string]callOutcome) string {
	if i >= len(args) {
		return ""
	}
	return resolveArg(args[i], resolved)
}

func intArgAt(args []intercept.ArgValue, i int, resolved map[string]callOutcome) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	return resolveIntArg(args[i], resolved)
}

func resolveArg(a intercept.ArgValue, resolved map[string]callOutcome) string {
	switch a.Kind {
	case "ident":
		if o, ok := resolved[a.Ident]; ok {
			return o.value
		}
		return ""
	case "string":
		return a.String
	case "int":
		return strconv.FormatInt(a.Int, 10)
	case "float":
		return strconv.FormatFloat(a.Float, 'f', -1, 64)
	case "bool":
		return strconv.FormatBool(a.Bool)
	default:
		return ""
	}
}

func resolveIntArg(a intercept.ArgValue, resolved map[string]callOutcome) (int, bool) {
	switch a.Kind {
	case "int":
		return int(a.Int), true
	case "ident":
		if o, ok := resolved[a.Ident]; ok {
			if n, err := strconv.Atoi(o.value); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
