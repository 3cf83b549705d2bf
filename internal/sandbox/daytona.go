package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	apiclient "github.com/daytonaio/daytona/libs/api-client-go"
	toolbox "github.com/daytonaio/daytona/libs/toolbox-api-client-go"

	"github.com/haasonsaas/rlm/internal/sandbox/protocol"
)

const daytonaSourceHeader = "rlm"

// DaytonaConfig names the remote sandbox and credentials to use. Unlike
// the teacher's backend, there is no ReuseSandbox/pool knob: the
// specification's at-most-one-child-per-session invariant means every
// Execute call creates a sandbox and tears it down again.
type DaytonaConfig struct {
	APIURL         string
	APIKey         string
	JWTToken       string
	OrganizationID string
	Target         string
}

func resolveDaytonaConfig(cfg DaytonaConfig) (DaytonaConfig, error) {
	cfg.APIURL = strings.TrimSpace(cfg.APIURL)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.JWTToken = strings.TrimSpace(cfg.JWTToken)
	cfg.OrganizationID = strings.TrimSpace(cfg.OrganizationID)
	cfg.Target = strings.TrimSpace(cfg.Target)

	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(os.Getenv("DAYTONA_API_KEY"))
	}
	if cfg.JWTToken == "" {
		cfg.JWTToken = strings.TrimSpace(os.Getenv("DAYTONA_JWT_TOKEN"))
	}
	if cfg.OrganizationID == "" {
		cfg.OrganizationID = strings.TrimSpace(os.Getenv("DAYTONA_ORGANIZATION_ID"))
	}
	if cfg.APIURL == "" {
		cfg.APIURL = strings.TrimSpace(os.Getenv("DAYTONA_API_URL"))
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://app.daytona.io/api"
	}
	if cfg.Target == "" {
		cfg.Target = strings.TrimSpace(os.Getenv("DAYTONA_TARGET"))
	}

	if cfg.APIKey == "" && cfg.JWTToken == "" {
		return cfg, errors.New("sandbox: daytona requires APIKey or JWTToken")
	}
	if cfg.JWTToken != "" && cfg.OrganizationID == "" {
		return cfg, errors.New("sandbox: daytona JWTToken requires OrganizationID")
	}
	return cfg, nil
}

// Daytona is a Backend that runs each snippet in a freshly created
// remote Daytona sandbox and tears it down afterward. It reuses the
// same rendered-program shape worker.Run writes locally, but executes
// it through the toolbox process API instead of a local `go run`.
type Daytona struct {
	cfg       DaytonaConfig
	apiClient *apiclient.APIClient
	mu        sync.Mutex
}

func NewDaytona(cfg DaytonaConfig) (*Daytona, error) {
	resolved, err := resolveDaytonaConfig(cfg)
	if err != nil {
		return nil, err
	}

	scheme, host, basePath, err := parseBaseURL(resolved.APIURL)
	if err != nil {
		return nil, fmt.Errorf("sandbox: daytona api url: %w", err)
	}

	apiCfg := apiclient.NewConfiguration()
	apiCfg.Host = host
	apiCfg.Scheme = scheme
	apiCfg.HTTPClient = &http.Client{}
	apiCfg.AddDefaultHeader("X-Daytona-Source", daytonaSourceHeader)
	if resolved.JWTToken != "" && resolved.OrganizationID != "" {
		apiCfg.AddDefaultHeader("X-Daytona-Organization-ID", resolved.OrganizationID)
	}
	apiCfg.Servers = apiclient.ServerConfigurations{
		{URL: fmt.Sprintf("%s://%s%s", scheme, host, basePath)},
	}

	return &Daytona{cfg: resolved, apiClient: apiclient.NewAPIClient(apiCfg)}, nil
}

func (d *Daytona) authContext(ctx context.Context) context.Context {
	token := d.cfg.APIKey
	if token == "" {
		token = d.cfg.JWTToken
	}
	return context.WithValue(ctx, apiclient.ContextAccessToken, token)
}

func (d *Daytona) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := CheckPolicy(req.Source, req); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	createReq := apiclient.NewCreateSandbox()
	createReq.SetName("rlm-" + strconv.FormatInt(int64(nowSeq()), 10))
	if d.cfg.Target != "" {
		createReq.SetTarget(d.cfg.Target)
	}

	sandbox, httpResp, err := d.apiClient.SandboxAPI.CreateSandbox(d.authContext(ctx)).CreateSandbox(*createReq).Execute()
	if err != nil {
		return nil, fmt.Errorf("sandbox: daytona create sandbox: %w", formatDaytonaError(err, httpResp))
	}
	sandboxID := sandbox.GetId()
	defer func() {
		_, _, _ = d.apiClient.SandboxAPI.DeleteSandbox(d.authContext(context.Background()), sandboxID).Execute()
	}()

	if sandbox.GetState() != apiclient.SANDBOXSTATE_STARTED {
		if err := d.waitForStart(ctx, sandboxID); err != nil {
			return nil, err
		}
	}

	toolboxClient, err := d.toolboxClient(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	source := renderRemoteProgram(req.Source, req.InjectedBindings, req.AllowedModules, req.CaptureNames)
	if err := d.uploadFile(ctx, toolboxClient, "main.go", source); err != nil {
		return nil, err
	}
	if err := d.uploadFile(ctx, toolboxClient, "go.mod", "module rlmsnippet\n\ngo 1.24\n"); err != nil {
		return nil, err
	}

	execReq := toolbox.NewExecuteRequest("go run main.go")
	if req.TimeoutSeconds > 0 {
		execReq.SetTimeout(int32(req.TimeoutSeconds))
	}
	resp, httpResp, err := toolboxClient.ProcessAPI.ExecuteCommand(ctx).Request(*execReq).Execute()
	if err != nil {
		return &Result{ProtocolError: formatDaytonaError(err, httpResp).Error()}, nil
	}

	exitCode := 0
	if resp.ExitCode != nil {
		exitCode = int(*resp.ExitCode)
	}
	rawStdout, capturedValues := splitRemoteCapturedValues(resp.Result, req.CaptureNames)
	out, outTrunc := truncate(rawStdout, req.MaxOutputChars)
	captured, capTrunc := truncateCapturedValues(capturedValues, req.MaxOutputChars)
	return &Result{
		Stdout:         out,
		CapturedValues: captured,
		ExitCode:       exitCode,
		Truncated:      outTrunc || capTrunc,
	}, nil
}

// splitRemoteCapturedValues mirrors worker.splitCapturedValues: a
// snippet with no capture requests never writes the delimiter, and a
// snippet that crashes before reaching its capture trailer simply
// yields no captured values rather than an error.
func splitRemoteCapturedValues(raw string, captureNames []string) (string, map[string]string) {
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

// uploadFile writes content to a local temp file and uploads it,
// matching the toolbox client's *os.File-shaped UploadFile parameter.
func (d *Daytona) uploadFile(ctx context.Context, toolboxClient *toolbox.APIClient, remotePath, content string) error {
	tmp, err := os.CreateTemp("", "rlm-daytona-upload-*")
	if err != nil {
		return fmt.Errorf("sandbox: daytona stage upload: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("sandbox: daytona stage upload: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		tmp.Close()
		return fmt.Errorf("sandbox: daytona stage upload: %w", err)
	}

	_, httpResp, err := toolboxClient.FileSystemAPI.UploadFile(ctx).Path(remotePath).File(tmp).Execute()
	tmp.Close()
	if err != nil {
		return fmt.Errorf("sandbox: daytona upload %s: %w", remotePath, formatDaytonaError(err, httpResp))
	}
	return nil
}

func (d *Daytona) Close() error { return nil }

func (d *Daytona) waitForStart(ctx context.Context, sandboxID string) error {
	for {
		sandbox, httpResp, err := d.apiClient.SandboxAPI.GetSandbox(d.authContext(ctx), sandboxID).Execute()
		if err != nil {
			return fmt.Errorf("sandbox: daytona status: %w", formatDaytonaError(err, httpResp))
		}
		switch sandbox.GetState() {
		case apiclient.SANDBOXSTATE_STARTED:
			return nil
		case apiclient.SANDBOXSTATE_ERROR, apiclient.SANDBOXSTATE_BUILD_FAILED, apiclient.SANDBOXSTATE_DESTROYED:
			return fmt.Errorf("sandbox: daytona sandbox failed: %s", sandbox.GetState())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (d *Daytona) toolboxClient(ctx context.Context, sandboxID string) (*toolbox.APIClient, error) {
	result, httpResp, err := d.apiClient.SandboxAPI.GetToolboxProxyUrl(d.authContext(ctx), sandboxID).Execute()
	if err != nil {
		return nil, fmt.Errorf("sandbox: daytona toolbox proxy url: %w", formatDaytonaError(err, httpResp))
	}
	proxyURL := strings.TrimRight(result.GetUrl(), "/")

	scheme, host, basePath, err := parseBaseURL(fmt.Sprintf("%s/%s", proxyURL, sandboxID))
	if err != nil {
		return nil, fmt.Errorf("sandbox: daytona toolbox url: %w", err)
	}

	cfg := toolbox.NewConfiguration()
	cfg.Host = host
	cfg.Scheme = scheme
	cfg.HTTPClient = &http.Client{}
	cfg.AddDefaultHeader("Authorization", "Bearer "+d.authToken())
	cfg.AddDefaultHeader("X-Daytona-Source", daytonaSourceHeader)
	cfg.Servers = toolbox.ServerConfigurations{
		{URL: fmt.Sprintf("%s://%s%s", scheme, host, basePath)},
	}
	return toolbox.NewAPIClient(cfg), nil
}

func (d *Daytona) authToken() string {
	if d.cfg.APIKey != "" {
		return d.cfg.APIKey
	}
	return d.cfg.JWTToken
}

func parseBaseURL(raw string) (scheme, host, basePath string, err error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return "", "", "", errors.New("empty url")
	}
	if !strings.Contains(normalized, "://") {
		normalized = "https://" + normalized
	}

	parsed, parseErr := url.Parse(normalized)
	if parseErr != nil {
		return "", "", "", parseErr
	}

	scheme = parsed.Scheme
	host = parsed.Host
	basePath = strings.TrimRight(parsed.Path, "/")
	if scheme == "" || host == "" {
		return "", "", "", fmt.Errorf("invalid url: %s", raw)
	}
	return scheme, host, basePath, nil
}

func formatDaytonaError(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}
	return fmt.Errorf("%s (status %s)", err.Error(), resp.Status)
}

// renderRemoteProgram mirrors worker.renderProgram's shape (same
// alphabetical binding order, same usage-driven import list, same
// capture trailer) so a snippet behaves identically whether it runs in
// the local process backend or a remote Daytona sandbox. Duplicated
// rather than imported because the worker package is linux-only (it
// shells out with rlimits this backend has no use for) while Daytona
// talks to a remote API and must stay buildable on any host OS; the
// policy helpers it calls (importsForSource et al.) are package-local
// to sandbox so no further duplication is needed here.
func renderRemoteProgram(body string, bindings map[string]string, allowedModules []string, captureNames []string) string {
	var buf strings.Builder
	buf.WriteString("package main\n\n")

	imports := importsForSource(body, allowedModules)
	if len(captureNames) > 0 {
		imports = append(imports, "encoding/json", "os")
		sort.Strings(imports)
		imports = dedupeSorted(imports)
	}
	if len(imports) > 0 {
		buf.WriteString("import (\n")
		for _, imp := range imports {
			fmt.Fprintf(&buf, "\t%s\n", strconv.Quote(imp))
		}
		buf.WriteString(")\n\n")
	}

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

func dedupeSorted(in []string) []string {
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

var seqMu sync.Mutex
var seqCounter int64

// nowSeq returns a monotonically increasing counter used only to give
// each sandbox a distinct name; it carries no timing semantics.
func nowSeq() int64 {
	seqMu.Lock()
	defer seqMu.Unlock()
	seqCounter++
	return seqCounter
}
