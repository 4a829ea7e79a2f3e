package e2b_sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/bytedance/sonic"

	"github.com/curaious/isobox/pkg/sandbox"
)

const (
	defaultDomain = "e2b.app"

	// envdPort is the data-plane API port inside every sandbox.
	envdPort = 49983

	httpTimeout    = 120 * time.Second
	cleanupTimeout = 30 * time.Second
)

type Config struct {
	// APIKey authenticates against the control plane. Required.
	APIKey string

	// Domain is the provider domain. Defaults to e2b.app.
	Domain string

	// APIURL is the control plane base URL. Defaults to https://api.{Domain}.
	// Tests point it at a local server.
	APIURL string

	// Template is the sandbox template used when CreateOptions does not
	// name an image.
	Template string

	// DefaultTimeout bounds a sandbox's lifetime when no explicit timeout
	// is requested.
	DefaultTimeout time.Duration

	// EnvdURL overrides the per-sandbox data-plane base URL. Tests only;
	// production derives it from the sandbox id and domain.
	EnvdURL string
}

// Manager runs sandboxes on a remote cloud provider. The provider-assigned
// sandbox id is the session id, so reattachment is a control-plane lookup
// rather than a container-name lookup; everything else behaves like the
// local backend.
type Manager struct {
	cfg        Config
	httpClient *http.Client
	registry   *sandbox.Registry
	reaper     *sandbox.Reaper
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("e2b: API key is required")
	}
	return newManager(cfg, sandbox.DefaultRegistry, sandbox.DefaultReaper), nil
}

func newManager(cfg Config, registry *sandbox.Registry, reaper *sandbox.Reaper) *Manager {
	if cfg.Domain == "" {
		cfg.Domain = defaultDomain
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api." + cfg.Domain
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Minute
	}
	return &Manager{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: httpTimeout},
		registry:   registry,
		reaper:     reaper,
	}
}

type createRequest struct {
	TemplateID string `json:"templateID"`
	Timeout    int    `json:"timeout"`
}

type sandboxResponse struct {
	SandboxID       string `json:"sandboxID"`
	EnvdAccessToken string `json:"envdAccessToken"`
	Domain          string `json:"domain,omitempty"`
	State           string `json:"state,omitempty"`
}

type connectRequest struct {
	Timeout int `json:"timeout"`
}

type timeoutRequest struct {
	Timeout int `json:"timeout"`
}

type commandRequest struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
	Cwd  string   `json:"cwd,omitempty"`
}

type commandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

func (m *Manager) Create(ctx context.Context, opts sandbox.CreateOptions) (*sandbox.Session, error) {
	template := opts.Image
	if template == "" {
		template = m.cfg.Template
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	var resp sandboxResponse
	err := m.controlPlane(ctx, http.MethodPost, "/sandboxes", createRequest{
		TemplateID: template,
		Timeout:    int(timeout.Seconds()),
	}, &resp)
	if err != nil {
		return nil, &sandbox.ProvisioningError{Err: err}
	}

	domain := resp.Domain
	if domain == "" {
		domain = m.cfg.Domain
	}
	sess := &sandbox.Session{
		ID:          resp.SandboxID,
		CreatedAt:   time.Now(),
		Timeout:     timeout,
		Domain:      domain,
		AccessToken: resp.EnvdAccessToken,
	}
	m.registry.Put(sess)
	m.scheduleExpiry(sess)
	return sess, nil
}

func (m *Manager) Connect(ctx context.Context, sessionID string) (*sandbox.Session, error) {
	if sess, ok := m.registry.Get(sessionID); ok {
		var info sandboxResponse
		err := m.controlPlane(ctx, http.MethodGet, "/sandboxes/"+sessionID, nil, &info)
		if err != nil || info.State != "running" {
			m.registry.Remove(sessionID)
			m.reaper.Cancel(sessionID)
			return nil, &sandbox.NotFoundError{SessionID: sessionID, Reason: "is no longer running"}
		}
		return sess, nil
	}

	// Fresh process: reconnect through the control plane, which also hands
	// back a data-plane access token.
	var resp sandboxResponse
	err := m.controlPlane(ctx, http.MethodPost, "/sandboxes/"+sessionID+"/connect", connectRequest{
		Timeout: int(m.cfg.DefaultTimeout.Seconds()),
	}, &resp)
	if err != nil {
		if isNotFound(err) {
			return nil, &sandbox.NotFoundError{SessionID: sessionID, Reason: "not found or already expired"}
		}
		return nil, &sandbox.TransportError{Op: "connect sandbox", Err: err}
	}

	domain := resp.Domain
	if domain == "" {
		domain = m.cfg.Domain
	}
	sess := &sandbox.Session{
		ID:          sessionID,
		CreatedAt:   time.Now(),
		Timeout:     m.cfg.DefaultTimeout,
		Domain:      domain,
		AccessToken: resp.EnvdAccessToken,
	}
	m.registry.Put(sess)
	m.scheduleExpiry(sess)
	return sess, nil
}

func (m *Manager) RunCommand(ctx context.Context, sess *sandbox.Session, command string) *sandbox.CommandResult {
	out, err := m.runEnvdCommand(ctx, sess, "/bin/bash", []string{"-l", "-c", command})
	if err != nil {
		return &sandbox.CommandResult{ExitCode: 1, Error: err.Error()}
	}
	return &sandbox.CommandResult{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}
}

func (m *Manager) RunCode(ctx context.Context, sess *sandbox.Session, code string) *sandbox.CodeResult {
	tmpPath := fmt.Sprintf("/tmp/exec_%s.py", sandbox.NewToken(8))
	if err := m.envdWriteFile(ctx, sess, tmpPath, []byte(code)); err != nil {
		return &sandbox.CodeResult{ExitCode: 1, Error: err.Error()}
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if _, err := m.runEnvdCommand(rmCtx, sess, "rm", []string{"-f", tmpPath}); err != nil {
			slog.Warn("failed to remove exec temp file", slog.String("session_id", sess.ID), slog.Any("error", err))
		}
	}()

	out, err := m.runEnvdCommand(ctx, sess, "python", []string{tmpPath})
	if err != nil {
		return &sandbox.CodeResult{ExitCode: 1, Error: err.Error()}
	}
	return &sandbox.CodeResult{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}
}

func (m *Manager) UploadFile(ctx context.Context, sess *sandbox.Session, localPath, sandboxPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &sandbox.TransportError{Op: "read local file", Err: err}
	}
	return m.envdWriteFile(ctx, sess, sandboxPath, data)
}

func (m *Manager) DownloadFile(ctx context.Context, sess *sandbox.Session, sandboxPath string) ([]byte, error) {
	u := m.envdBaseURL(sess) + "/files?path=" + url.QueryEscape(sandboxPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &sandbox.TransportError{Op: "read file", Err: err}
	}
	req.Header.Set("X-Access-Token", sess.AccessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &sandbox.TransportError{Op: "read file", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &sandbox.ExtractionError{Path: sandboxPath}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &sandbox.TransportError{Op: "read file", Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, body)}
	}
	return io.ReadAll(resp.Body)
}

func (m *Manager) SetTimeout(ctx context.Context, sess *sandbox.Session, timeout time.Duration) error {
	err := m.controlPlane(ctx, http.MethodPost, "/sandboxes/"+sess.ID+"/timeout", timeoutRequest{
		Timeout: int(timeout.Seconds()),
	}, nil)
	if err != nil {
		return &sandbox.TransportError{Op: "set timeout", Err: err}
	}
	sess.Timeout = timeout
	m.scheduleExpiry(sess)
	return nil
}

func (m *Manager) Kill(ctx context.Context, sess *sandbox.Session) error {
	m.reaper.Cancel(sess.ID)
	defer m.registry.Remove(sess.ID)
	err := m.controlPlane(ctx, http.MethodDelete, "/sandboxes/"+sess.ID, nil, nil)
	if err != nil && !isNotFound(err) {
		return &sandbox.TransportError{Op: "delete sandbox", Err: err}
	}
	return nil
}

func (m *Manager) scheduleExpiry(sess *sandbox.Session) {
	m.reaper.Schedule(sess.ID, sess.Timeout, func() { m.expire(sess) })
}

func (m *Manager) expire(sess *sandbox.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := m.controlPlane(ctx, http.MethodDelete, "/sandboxes/"+sess.ID, nil, nil); err != nil && !isNotFound(err) {
		slog.Warn("failed to remove expired sandbox", slog.String("session_id", sess.ID), slog.Any("error", err))
	}
	m.registry.Remove(sess.ID)
}

// controlPlane sends a JSON request to the provider API and decodes the
// response into out when non-nil.
func (m *Manager) controlPlane(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.APIURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("X-API-Key", m.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := sonic.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// envdBaseURL returns the data-plane base URL for one sandbox.
func (m *Manager) envdBaseURL(sess *sandbox.Session) string {
	if m.cfg.EnvdURL != "" {
		return m.cfg.EnvdURL
	}
	return fmt.Sprintf("https://%d-%s.%s", envdPort, sess.ID, sess.Domain)
}

func (m *Manager) runEnvdCommand(ctx context.Context, sess *sandbox.Session, cmd string, args []string) (*commandResponse, error) {
	buf, err := sonic.Marshal(commandRequest{Cmd: cmd, Args: args, Cwd: sandbox.WorkDir})
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.envdBaseURL(sess)+"/commands/run", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", sess.AccessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read command response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("run command: status=%d body=%s", resp.StatusCode, respBody)
	}

	var out commandResponse
	if err := sonic.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode command response: %w", err)
	}
	return &out, nil
}

// envdWriteFile uploads bytes through the data plane's multipart file
// endpoint, creating missing parent directories first.
func (m *Manager) envdWriteFile(ctx context.Context, sess *sandbox.Session, sandboxPath string, data []byte) error {
	if dir := path.Dir(sandboxPath); dir != "." && dir != "/" {
		if _, err := m.runEnvdCommand(ctx, sess, "mkdir", []string{"-p", dir}); err != nil {
			return &sandbox.TransportError{Op: "mkdir", Err: err}
		}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", sandboxPath)
	if err != nil {
		return &sandbox.TransportError{Op: "write file", Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return &sandbox.TransportError{Op: "write file", Err: err}
	}
	if err := writer.Close(); err != nil {
		return &sandbox.TransportError{Op: "write file", Err: err}
	}

	u := m.envdBaseURL(sess) + "/files?path=" + url.QueryEscape(sandboxPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return &sandbox.TransportError{Op: "write file", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Access-Token", sess.AccessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &sandbox.TransportError{Op: "write file", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &sandbox.TransportError{Op: "write file", Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, body)}
	}
	return nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider API error: status=%d body=%s", e.status, e.body)
}

func isNotFound(err error) bool {
	apiErr, ok := err.(*apiError)
	return ok && apiErr.status == http.StatusNotFound
}

var _ sandbox.Backend = (*Manager)(nil)
