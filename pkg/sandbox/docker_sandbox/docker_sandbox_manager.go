package docker_sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/curaious/isobox/pkg/sandbox"
	"github.com/curaious/isobox/pkg/sandbox/archive"
)

const (
	// Resource ceilings applied to every sandbox container.
	memoryLimitBytes = 4 << 30          // 4 GiB
	cpuLimitNanos    = 2 * 1_000_000_000 // 2 cores

	cleanupTimeout = 30 * time.Second
)

type Config struct {
	// Image is the container image used when CreateOptions does not name one.
	Image string

	// Network enables a bridged network; disabled containers get no network
	// at all.
	Network bool

	// DefaultTimeout bounds a sandbox's lifetime when no explicit timeout
	// is requested, and is re-applied when a session is rediscovered by
	// name in a fresh process.
	DefaultTimeout time.Duration
}

// dockerAPI is the slice of the Docker client the manager needs. Tests
// substitute a fake.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
}

// Manager runs sandboxes as local Docker containers. The container name is
// the session id, which is what makes cross-process reattachment work.
type Manager struct {
	cfg      Config
	client   dockerAPI
	registry *sandbox.Registry
	reaper   *sandbox.Reaper
}

func NewManager(cfg Config) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newManager(cfg, cli, sandbox.DefaultRegistry, sandbox.DefaultReaper), nil
}

func newManager(cfg Config, api dockerAPI, registry *sandbox.Registry, reaper *sandbox.Reaper) *Manager {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Minute
	}
	return &Manager{cfg: cfg, client: api, registry: registry, reaper: reaper}
}

func (m *Manager) Create(ctx context.Context, opts sandbox.CreateOptions) (*sandbox.Session, error) {
	image := opts.Image
	if image == "" {
		image = m.cfg.Image
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	networkMode := "none"
	if opts.NetworkEnabled || m.cfg.Network {
		networkMode = "bridge"
	}

	sessionID := sandbox.NewID()
	resp, err := m.client.ContainerCreate(ctx,
		&container.Config{
			Image:      image,
			OpenStdin:  true,
			WorkingDir: sandbox.WorkDir,
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(networkMode),
			SecurityOpt: []string{"no-new-privileges"},
			Resources: container.Resources{
				Memory:   memoryLimitBytes,
				NanoCPUs: cpuLimitNanos,
			},
		},
		nil, nil, sessionID)
	if err != nil {
		return nil, &sandbox.ProvisioningError{Err: err}
	}
	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Don't leave a created-but-never-started container behind.
		if rmErr := m.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			slog.Warn("failed to remove unstarted container", slog.String("session_id", sessionID), slog.Any("error", rmErr))
		}
		return nil, &sandbox.ProvisioningError{Err: err}
	}

	sess := &sandbox.Session{
		ID:          sessionID,
		ContainerID: resp.ID,
		CreatedAt:   time.Now(),
		Timeout:     timeout,
	}
	m.registry.Put(sess)
	m.scheduleExpiry(sess)
	return sess, nil
}

func (m *Manager) Connect(ctx context.Context, sessionID string) (*sandbox.Session, error) {
	if sess, ok := m.registry.Get(sessionID); ok {
		insp, err := m.client.ContainerInspect(ctx, sess.ContainerID)
		if err != nil || insp.State == nil || !insp.State.Running {
			// Stale entry: the registry and the runtime must agree.
			m.registry.Remove(sessionID)
			m.reaper.Cancel(sessionID)
			return nil, &sandbox.NotFoundError{SessionID: sessionID, Reason: "is no longer running"}
		}
		return sess, nil
	}

	// Fresh process: the registry is empty, but the session id doubles as
	// the container name, so the runtime itself can resolve it.
	insp, err := m.client.ContainerInspect(ctx, sessionID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, &sandbox.NotFoundError{SessionID: sessionID, Reason: "not found or already expired"}
		}
		return nil, &sandbox.TransportError{Op: "inspect container", Err: err}
	}
	if insp.State == nil || !insp.State.Running {
		return nil, &sandbox.NotFoundError{SessionID: sessionID, Reason: "is no longer running"}
	}

	sess := &sandbox.Session{
		ID:          sessionID,
		ContainerID: insp.ID,
		CreatedAt:   time.Now(),
		Timeout:     m.cfg.DefaultTimeout,
	}
	m.registry.Put(sess)
	// The original deadline is unrecoverable across processes; reattachment
	// resets expiry to the configured default.
	m.scheduleExpiry(sess)
	return sess, nil
}

func (m *Manager) RunCommand(ctx context.Context, sess *sandbox.Session, command string) *sandbox.CommandResult {
	stdout, stderr, exitCode, err := m.exec(ctx, sess.ContainerID, []string{"bash", "-c", command}, sandbox.ExecUser)
	if err != nil {
		return &sandbox.CommandResult{ExitCode: 1, Error: err.Error()}
	}
	return &sandbox.CommandResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
}

func (m *Manager) RunCode(ctx context.Context, sess *sandbox.Session, code string) *sandbox.CodeResult {
	// A temp file sidesteps shell escaping of arbitrary source text.
	tmpPath := fmt.Sprintf("/tmp/exec_%s.py", sandbox.NewToken(8))
	if err := m.writeFile(ctx, sess.ContainerID, tmpPath, []byte(code)); err != nil {
		return &sandbox.CodeResult{ExitCode: 1, Error: err.Error()}
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if _, _, _, err := m.exec(rmCtx, sess.ContainerID, []string{"rm", "-f", tmpPath}, "root"); err != nil {
			slog.Warn("failed to remove exec temp file", slog.String("session_id", sess.ID), slog.Any("error", err))
		}
	}()

	stdout, stderr, exitCode, err := m.exec(ctx, sess.ContainerID, []string{"python", tmpPath}, sandbox.ExecUser)
	if err != nil {
		return &sandbox.CodeResult{ExitCode: 1, Error: err.Error()}
	}
	return &sandbox.CodeResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
}

func (m *Manager) UploadFile(ctx context.Context, sess *sandbox.Session, localPath, sandboxPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &sandbox.TransportError{Op: "read local file", Err: err}
	}
	return m.writeFile(ctx, sess.ContainerID, sandboxPath, data)
}

func (m *Manager) DownloadFile(ctx context.Context, sess *sandbox.Session, sandboxPath string) ([]byte, error) {
	rc, _, err := m.client.CopyFromContainer(ctx, sess.ContainerID, sandboxPath)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, &sandbox.ExtractionError{Path: sandboxPath}
		}
		return nil, &sandbox.TransportError{Op: "get archive", Err: err}
	}
	defer rc.Close()
	return archive.Unpack(rc, sandboxPath)
}

func (m *Manager) SetTimeout(_ context.Context, sess *sandbox.Session, timeout time.Duration) error {
	sess.Timeout = timeout
	m.scheduleExpiry(sess)
	return nil
}

func (m *Manager) Kill(ctx context.Context, sess *sandbox.Session) error {
	m.reaper.Cancel(sess.ID)
	defer m.registry.Remove(sess.ID)
	err := m.client.ContainerRemove(ctx, sess.ContainerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return &sandbox.TransportError{Op: "remove container", Err: err}
	}
	return nil
}

// writeFile streams raw bytes to a path inside the container. The exec user
// may not own the destination, so the parent directory is created as root.
func (m *Manager) writeFile(ctx context.Context, containerID, sandboxPath string, data []byte) error {
	destDir := archive.SplitDir(sandboxPath)
	if _, _, _, err := m.exec(ctx, containerID, []string{"mkdir", "-p", destDir}, "root"); err != nil {
		return &sandbox.TransportError{Op: "mkdir", Err: err}
	}
	stream, err := archive.Pack(sandboxPath, data)
	if err != nil {
		return &sandbox.TransportError{Op: "pack archive", Err: err}
	}
	if err := m.client.CopyToContainer(ctx, containerID, destDir, stream, container.CopyToContainerOptions{}); err != nil {
		return &sandbox.TransportError{Op: "put archive", Err: err}
	}
	return nil
}

// exec runs one command in the container and captures stdout and stderr
// separately via the multiplexed attach stream.
func (m *Manager) exec(ctx context.Context, containerID string, cmd []string, user string) (string, string, int, error) {
	execResp, err := m.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		User:         user,
		WorkingDir:   sandbox.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("create exec: %w", err)
	}
	attach, err := m.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", "", 0, fmt.Errorf("read exec output: %w", err)
	}
	insp, err := m.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("inspect exec: %w", err)
	}
	return validUTF8(stdout.String()), validUTF8(stderr.String()), insp.ExitCode, nil
}

func (m *Manager) scheduleExpiry(sess *sandbox.Session) {
	m.reaper.Schedule(sess.ID, sess.Timeout, func() { m.expire(sess) })
}

// expire is best effort: no caller is listening, so failures are logged and
// swallowed, and the registry entry goes away regardless.
func (m *Manager) expire(sess *sandbox.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	insp, err := m.client.ContainerInspect(ctx, sess.ContainerID)
	if err == nil && insp.State != nil && insp.State.Running {
		if err := m.client.ContainerRemove(ctx, sess.ContainerID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("failed to remove expired sandbox", slog.String("session_id", sess.ID), slog.Any("error", err))
		}
	}
	m.registry.Remove(sess.ID)
}

func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

var _ sandbox.Backend = (*Manager)(nil)
