// Package config defines the typed, validated configuration record that
// pins every limit, policy, and model name used by the RLM runtime.
package config

// Config is the immutable nested record assembled from a single
// configuration source and default values. Every field corresponds to a
// section named in the configuration contract; none are read from
// ambient/global state.
type Config struct {
	Budget  BudgetConfig  `yaml:"budget" json:"budget"`
	Sandbox SandboxConfig `yaml:"sandbox" json:"sandbox"`
	LLM     LLMConfig     `yaml:"llm" json:"llm"`
	Session SessionConfig `yaml:"session" json:"session"`
	Tools   ToolsConfig   `yaml:"tools" json:"tools"`
	Trace   TraceConfig   `yaml:"trace" json:"trace"`
}

// PricingEntry is a single model's per-token price pair.
type PricingEntry struct {
	PriceIn  float64 `yaml:"price_in" json:"price_in"`
	PriceOut float64 `yaml:"price_out" json:"price_out"`
}

// BudgetConfig holds the token/cost/call/time caps.
type BudgetConfig struct {
	MaxSessionTokens      int64                   `yaml:"max_session_tokens" json:"max_session_tokens"`
	MaxSessionUSD         float64                 `yaml:"max_session_usd" json:"max_session_usd"`
	MaxRootCalls          int64                   `yaml:"max_root_calls" json:"max_root_calls"`
	MaxSubCalls           int64                   `yaml:"max_sub_calls" json:"max_sub_calls"`
	SessionTimeoutSeconds int64                   `yaml:"session_timeout_seconds" json:"session_timeout_seconds"`
	CharsPerToken         float64                 `yaml:"chars_per_token" json:"chars_per_token"`
	Pricing               map[string]PricingEntry `yaml:"pricing" json:"pricing"`
	DefaultPricing        *PricingEntry           `yaml:"default_pricing" json:"default_pricing"`
}

// SecurityMode selects sandbox import enforcement.
type SecurityMode string

const (
	SecurityStrict     SecurityMode = "strict"
	SecurityPermissive SecurityMode = "permissive"
)

// SandboxBackendKind selects the sandbox execution backend.
type SandboxBackendKind string

const (
	BackendProcess     SandboxBackendKind = "process"
	BackendFirecracker SandboxBackendKind = "firecracker"
	BackendDaytona     SandboxBackendKind = "daytona"
)

// SandboxConfig configures isolated child-process execution.
type SandboxConfig struct {
	Backend                 SandboxBackendKind `yaml:"backend" json:"backend"`
	ExecutionTimeoutSeconds int64              `yaml:"execution_timeout_seconds" json:"execution_timeout_seconds"`
	MaxMemoryBytes          int64              `yaml:"max_memory_bytes" json:"max_memory_bytes"`
	MaxOutputChars          int64              `yaml:"max_output_chars" json:"max_output_chars"`
	AllowedModules          []string           `yaml:"allowed_modules" json:"allowed_modules"`
	BlockedNames            []string           `yaml:"blocked_names" json:"blocked_names"`
	SecurityMode            SecurityMode       `yaml:"security_mode" json:"security_mode"`
	WorkingDirectory        string             `yaml:"working_directory" json:"working_directory"`
	TempDirectory           string             `yaml:"temp_directory" json:"temp_directory"`

	Firecracker *FirecrackerConfig `yaml:"firecracker,omitempty" json:"firecracker,omitempty"`
	Daytona     *DaytonaConfig     `yaml:"daytona,omitempty" json:"daytona,omitempty"`
}

// FirecrackerConfig configures the microVM sandbox backend.
type FirecrackerConfig struct {
	KernelImagePath string `yaml:"kernel_image_path" json:"kernel_image_path"`
	RootFSPath      string `yaml:"rootfs_path" json:"rootfs_path"`
	VCPUCount       int64  `yaml:"vcpu_count" json:"vcpu_count"`
	MemSizeMiB      int64  `yaml:"mem_size_mib" json:"mem_size_mib"`
	SocketPath      string `yaml:"socket_path" json:"socket_path"`
}

// DaytonaConfig configures the remote Daytona sandbox backend.
type DaytonaConfig struct {
	APIURL         string `yaml:"api_url" json:"api_url"`
	APIKey         string `yaml:"api_key" json:"api_key"`
	JWTToken       string `yaml:"jwt_token" json:"jwt_token"`
	OrganizationID string `yaml:"organization_id" json:"organization_id"`
	Target         string `yaml:"target" json:"target"`
}

// LLMConfig names the models and sampling parameters for root and sub
// calls. ProviderConfig is opaque to the core and forwarded verbatim to
// the configured provider adapter.
type LLMConfig struct {
	RootModel            string         `yaml:"root_model" json:"root_model"`
	SubModel              string         `yaml:"sub_model" json:"sub_model"`
	TemperatureRoot       float64        `yaml:"temperature_root" json:"temperature_root"`
	TemperatureSub        float64        `yaml:"temperature_sub" json:"temperature_sub"`
	MaxOutputTokens       int64          `yaml:"max_output_tokens" json:"max_output_tokens"`
	AllowModelOverride    bool           `yaml:"allow_model_override" json:"allow_model_override"`
	AllowedModelPrefixes  []string       `yaml:"allowed_model_prefixes" json:"allowed_model_prefixes"`
	ProviderConfig         map[string]any `yaml:"provider_config" json:"provider_config"`
}

// SessionConfig bounds the session loop itself.
type SessionConfig struct {
	MaxTurns        int64 `yaml:"max_turns" json:"max_turns"`
	MaxContextChars int64 `yaml:"max_context_chars" json:"max_context_chars"`
	MaxFileBytes    int64 `yaml:"max_file_bytes" json:"max_file_bytes"`
	MaxNavResults   int64 `yaml:"max_nav_results" json:"max_nav_results"`
}

// ToolsConfig enumerates which navigation/sub-query tools are enabled.
type ToolsConfig struct {
	Enabled []string `yaml:"enabled" json:"enabled"`
}

// RedactionPolicy controls what trace output may retain.
type RedactionPolicy string

const (
	RedactNone    RedactionPolicy = "none"
	RedactSecrets RedactionPolicy = "secrets"
)

// TraceConfig controls transcript retention and preview truncation.
type TraceConfig struct {
	RetainFullTranscript bool            `yaml:"retain_full_transcript" json:"retain_full_transcript"`
	PreviewChars         int64           `yaml:"preview_chars" json:"preview_chars"`
	Redaction            RedactionPolicy `yaml:"redaction" json:"redaction"`
}

// KnownToolNames is the whitelisted tool catalog the Tools section may
// reference.
var KnownToolNames = []string{"nav_outline", "nav_ls", "nav_read", "nav_search", "nav_info", "llm_query"}

// Default returns the configuration the core ships with before any
// override is applied. It is not itself valid for production use
// (RootModel is empty); callers must supply at least llm.root_model.
func Default() Config {
	return Config{
		Budget: BudgetConfig{
			MaxSessionTokens:      200_000,
			MaxSessionUSD:         2.0,
			MaxRootCalls:          40,
			MaxSubCalls:           40,
			SessionTimeoutSeconds: 300,
			CharsPerToken:         4,
		},
		Sandbox: SandboxConfig{
			Backend:                 BackendProcess,
			ExecutionTimeoutSeconds: 10,
			MaxMemoryBytes:          256 * 1024 * 1024,
			MaxOutputChars:          20_000,
			AllowedModules:          []string{"fmt", "strings", "strconv", "math", "sort", "time", "errors"},
			SecurityMode:            SecurityStrict,
			WorkingDirectory:        "/tmp/rlm-sandbox",
			TempDirectory:           "/tmp/rlm-sandbox-tmp",
		},
		LLM: LLMConfig{
			TemperatureRoot: 0.2,
			TemperatureSub:  0.2,
			MaxOutputTokens: 4096,
		},
		Session: SessionConfig{
			MaxTurns:        20,
			MaxContextChars: 400_000,
			MaxFileBytes:    1 << 20,
			MaxNavResults:   20,
		},
		Tools: ToolsConfig{Enabled: KnownToolNames},
		Trace: TraceConfig{
			PreviewChars: 2000,
			Redaction:    RedactSecrets,
		},
	}
}
