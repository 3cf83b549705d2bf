package config

import "fmt"

// ConfigError names the offending field of a critical validation failure.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Warning is a non-critical validation finding; the offending value has
// already been clamped to a default by the time it is reported.
type Warning struct {
	Field  string
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("config: %s: %s", w.Field, w.Detail)
}

var knownSecurityModes = map[SecurityMode]bool{
	SecurityStrict:     true,
	SecurityPermissive: true,
}

var knownBackends = map[SandboxBackendKind]bool{
	BackendProcess:     true,
	BackendFirecracker: true,
	BackendDaytona:     true,
}

// Validate applies the two-tier validation described in the
// configuration contract: critical fields fail loudly with a
// *ConfigError; non-critical fields are clamped in place and reported
// as warnings.
func Validate(cfg *Config) ([]Warning, error) {
	if cfg.LLM.RootModel == "" {
		return nil, &ConfigError{Field: "llm.root_model", Reason: "must be set"}
	}
	if cfg.Budget.MaxSessionTokens <= 0 {
		return nil, &ConfigError{Field: "budget.max_session_tokens", Reason: "must be > 0"}
	}
	if cfg.Budget.MaxSessionUSD <= 0 {
		return nil, &ConfigError{Field: "budget.max_session_usd", Reason: "must be > 0"}
	}
	if cfg.Budget.MaxRootCalls <= 0 {
		return nil, &ConfigError{Field: "budget.max_root_calls", Reason: "must be > 0"}
	}
	if cfg.Budget.MaxSubCalls <= 0 {
		return nil, &ConfigError{Field: "budget.max_sub_calls", Reason: "must be > 0"}
	}
	if cfg.Budget.SessionTimeoutSeconds <= 0 {
		return nil, &ConfigError{Field: "budget.session_timeout_seconds", Reason: "must be > 0"}
	}
	if !knownBackends[cfg.Sandbox.Backend] {
		return nil, &ConfigError{Field: "sandbox.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Sandbox.Backend)}
	}
	if !knownSecurityModes[cfg.Sandbox.SecurityMode] {
		return nil, &ConfigError{Field: "sandbox.security_mode", Reason: fmt.Sprintf("unknown security mode %q", cfg.Sandbox.SecurityMode)}
	}
	for _, name := range cfg.Tools.Enabled {
		known := false
		for _, k := range KnownToolNames {
			if k == name {
				known = true
				break
			}
		}
		if !known {
			return nil, &ConfigError{Field: "tools.enabled", Reason: fmt.Sprintf("unknown tool %q", name)}
		}
	}

	var warnings []Warning
	defaults := Default()

	if cfg.Sandbox.ExecutionTimeoutSeconds <= 0 {
		warnings = append(warnings, Warning{Field: "sandbox.execution_timeout_seconds", Detail: "out of range, clamped to default"})
		cfg.Sandbox.ExecutionTimeoutSeconds = defaults.Sandbox.ExecutionTimeoutSeconds
	}
	if cfg.Sandbox.MaxMemoryBytes <= 0 {
		warnings = append(warnings, Warning{Field: "sandbox.max_memory_bytes", Detail: "out of range, clamped to default"})
		cfg.Sandbox.MaxMemoryBytes = defaults.Sandbox.MaxMemoryBytes
	}
	if cfg.Sandbox.MaxOutputChars <= 0 {
		warnings = append(warnings, Warning{Field: "sandbox.max_output_chars", Detail: "out of range, clamped to default"})
		cfg.Sandbox.MaxOutputChars = defaults.Sandbox.MaxOutputChars
	}
	if cfg.Session.MaxTurns <= 0 {
		warnings = append(warnings, Warning{Field: "session.max_turns", Detail: "out of range, clamped to default"})
		cfg.Session.MaxTurns = defaults.Session.MaxTurns
	}
	if cfg.Session.MaxContextChars <= 0 {
		warnings = append(warnings, Warning{Field: "session.max_context_chars", Detail: "out of range, clamped to default"})
		cfg.Session.MaxContextChars = defaults.Session.MaxContextChars
	}
	if cfg.Session.MaxFileBytes <= 0 {
		warnings = append(warnings, Warning{Field: "session.max_file_bytes", Detail: "out of range, clamped to default"})
		cfg.Session.MaxFileBytes = defaults.Session.MaxFileBytes
	}
	if cfg.Session.MaxNavResults <= 0 {
		warnings = append(warnings, Warning{Field: "session.max_nav_results", Detail: "out of range, clamped to default"})
		cfg.Session.MaxNavResults = defaults.Session.MaxNavResults
	}
	if cfg.Budget.CharsPerToken <= 0 {
		warnings = append(warnings, Warning{Field: "budget.chars_per_token", Detail: "out of range, clamped to default"})
		cfg.Budget.CharsPerToken = defaults.Budget.CharsPerToken
	}
	if cfg.Trace.PreviewChars <= 0 {
		warnings = append(warnings, Warning{Field: "trace.preview_chars", Detail: "out of range, clamped to default"})
		cfg.Trace.PreviewChars = defaults.Trace.PreviewChars
	}
	if len(cfg.Tools.Enabled) == 0 {
		warnings = append(warnings, Warning{Field: "tools.enabled", Detail: "empty, defaulted to full catalog"})
		cfg.Tools.Enabled = KnownToolNames
	}

	return warnings, nil
}
