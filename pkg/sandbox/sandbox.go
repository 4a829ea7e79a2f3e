package sandbox

// Package sandbox provides primitives for managing isolated code-execution
// sandboxes on behalf of an agent.
//
// This file intentionally only defines the backend contract that higher-level
// code can depend on. The concrete implementations live in the docker_sandbox
// and e2b_sandbox packages.

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// WorkDir is the fixed working directory inside every sandbox.
	WorkDir = "/home/sandbox"

	// ExecUser is the unprivileged user commands run as inside the sandbox.
	ExecUser = "sandbox"

	// IDPrefix prefixes every locally generated session identifier. The
	// identifier doubles as the underlying container's name, so a fresh
	// process can recover a session from the runtime by name alone.
	IDPrefix = "sbx-"
)

// CreateOptions configures a new sandbox. Zero values fall back to the
// backend's configured defaults.
type CreateOptions struct {
	Image          string
	Timeout        time.Duration
	NetworkEnabled bool
}

// Session is the live handle to one sandbox. The ID is globally unique and
// names the underlying resource; the remaining fields are backend-specific
// and only one set is populated at a time.
type Session struct {
	ID        string
	CreatedAt time.Time
	Timeout   time.Duration

	// ContainerID is set by the local Docker backend.
	ContainerID string

	// Domain and AccessToken are set by the remote provider backend.
	Domain      string
	AccessToken string
}

// Backend defines the lifecycle and execution operations for sandboxes.
// Both implementations behave identically from the caller's point of view,
// including error shapes; only transport mechanics differ.
type Backend interface {
	// Create starts a new sandbox resource with resource limits applied
	// and schedules its expiry timer.
	Create(ctx context.Context, opts CreateOptions) (*Session, error)

	// Connect resolves an existing session. It consults the in-process
	// registry first and falls back to a by-name lookup against the
	// runtime, so sessions survive process restarts. A resource that
	// exists but is not running counts as not found.
	Connect(ctx context.Context, sessionID string) (*Session, error)

	// RunCommand executes a shell command inside the sandbox. Transport
	// failures never surface as errors; they land in the result with
	// exit code 1 and the Error field set.
	RunCommand(ctx context.Context, sess *Session, command string) *CommandResult

	// RunCode writes the code to a temporary file inside the sandbox,
	// runs it with the interpreter and removes the file afterwards.
	// Same error contract as RunCommand.
	RunCode(ctx context.Context, sess *Session, code string) *CodeResult

	// UploadFile copies a local file's bytes into the sandbox, creating
	// missing destination directories.
	UploadFile(ctx context.Context, sess *Session, localPath, sandboxPath string) error

	// DownloadFile returns the raw bytes of a single file inside the
	// sandbox.
	DownloadFile(ctx context.Context, sess *Session, sandboxPath string) ([]byte, error)

	// SetTimeout updates the session timeout and pushes out the pending
	// expiry deadline.
	SetTimeout(ctx context.Context, sess *Session, timeout time.Duration) error

	// Kill force-removes the sandbox resource and purges the registry
	// entry. Killing an already-removed sandbox is not an error.
	Kill(ctx context.Context, sess *Session) error
}

// NewID generates a session identifier.
func NewID() string {
	return IDPrefix + NewToken(12)
}

// NewToken returns n hex characters of randomness.
func NewToken(n int) string {
	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(tok) {
		n = len(tok)
	}
	return tok[:n]
}
