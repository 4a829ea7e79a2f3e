// Package tools exposes the sandbox backend to a non-interactive agent as a
// set of MCP tools. Every operation returns a human-readable string; failures
// are reported with an [ERROR]: marker and actionable hints rather than
// errors, since the caller is an LLM parsing text.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/curaious/isobox/pkg/sandbox"
)

var tracer = otel.Tracer("SandboxTools")

const (
	createAttempts   = 5
	commandAttempts  = 5
	downloadAttempts = 3
)

type Toolset struct {
	backend sandbox.Backend
	logsDir string

	// sleep is swapped out in tests so retry backoff doesn't slow them down.
	sleep func(time.Duration)
}

func NewToolset(backend sandbox.Backend, logsDir string) *Toolset {
	return &Toolset{backend: backend, logsDir: logsDir, sleep: time.Sleep}
}

// CreateSandbox provisions a fresh sandbox and returns its session id.
// Provisioning failures are retried with linear backoff before giving up.
func (t *Toolset) CreateSandbox(ctx context.Context) string {
	ctx, span := tracer.Start(ctx, "create_sandbox")
	defer span.End()

	for attempt := 1; ; attempt++ {
		sess, err := t.backend.Create(ctx, sandbox.CreateOptions{})
		if err == nil {
			span.SetAttributes(attribute.String("session_id", sess.ID))
			if mkErr := os.MkdirAll(filepath.Join(t.logsDir, "tmpfiles"), 0o755); mkErr != nil {
				slog.Warn("failed to create local artifact dir", slog.Any("error", mkErr))
			}
			return "Sandbox created with sandbox_id: " + sess.ID
		}
		if attempt == createAttempts {
			return fmt.Sprintf("[ERROR]: Failed to create sandbox after %d attempts: %v, please retry later.", createAttempts, err)
		}
		t.sleep(time.Duration(attempt) * 2 * time.Second)
	}
}

// RunCommand executes a shell command in the sandbox and returns the
// stringified result.
func (t *Toolset) RunCommand(ctx context.Context, sessionID, command string) string {
	ctx, span := tracer.Start(ctx, "run_command")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := t.backend.Connect(ctx, sessionID)
	if err != nil {
		return connectFailure(sessionID)
	}

	for attempt := 1; ; attempt++ {
		res := t.backend.RunCommand(ctx, sess, command)
		if res.Error == "" {
			out := res.String()
			if isPackageInstall(command) {
				out += "\n\n[PACKAGE INSTALL STATUS]: The system packages and Python packages " +
					"required for the task have been installed. No need to install them again " +
					"unless a missing package error occurs."
			}
			return out
		}
		if attempt == commandAttempts {
			msg := fmt.Sprintf("[ERROR]: Failed to run command after %d attempts. Details: %s.\n\n"+
				"[HINT]: Shell commands can be error-prone. Consider using the `run_python_code` tool instead.\n\n"+
				"[PERMISSION HINT]: You are running as user, not root. Use `sudo` for commands requiring admin privileges.",
				commandAttempts, res.Error)
			if isPackageInstall(command) {
				msg += "\n\n[PACKAGE INSTALL STATUS]: Packages may already be installed. " +
					"Only re-install if a missing package error occurs."
			}
			return msg
		}
		t.sleep(time.Duration(attempt) * 2 * time.Second)
	}
}

// RunPythonCode runs a python code block in the sandbox and returns the
// stringified result.
func (t *Toolset) RunPythonCode(ctx context.Context, sessionID, codeBlock string) string {
	ctx, span := tracer.Start(ctx, "run_python_code")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := t.backend.Connect(ctx, sessionID)
	if err != nil {
		return connectFailure(sessionID)
	}

	for attempt := 1; ; attempt++ {
		res := t.backend.RunCode(ctx, sess, codeBlock)
		if res.Error == "" {
			return res.String()
		}
		if attempt == commandAttempts {
			return fmt.Sprintf("[ERROR]: Failed to run code in sandbox %s after %d attempts. Details: %s.",
				sessionID, commandAttempts, res.Error)
		}
		t.sleep(time.Duration(attempt) * 2 * time.Second)
	}
}

// UploadFile copies a local file into a sandbox directory and returns the
// destination path.
func (t *Toolset) UploadFile(ctx context.Context, sessionID, localPath, sandboxDir string) string {
	ctx, span := tracer.Start(ctx, "upload_file_from_local_to_sandbox")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := t.backend.Connect(ctx, sessionID)
	if err != nil {
		return connectFailure(sessionID)
	}

	if sandboxDir == "" {
		sandboxDir = sandbox.WorkDir
	}
	dest := path.Join(sandboxDir, filepath.Base(localPath))
	if err := t.backend.UploadFile(ctx, sess, localPath, dest); err != nil {
		return fmt.Sprintf("[ERROR]: Failed to upload file %s to sandbox %s: %v\n\n"+
			"[INFO]: Consider using the `read_file` tool which can directly read various "+
			"file types from local paths or URLs without uploading.", localPath, sessionID, err)
	}
	return fmt.Sprintf("File uploaded to %s\n\n"+
		"[INFO]: For directly reading local files without uploading to sandbox, consider "+
		"using the `read_file` tool which can read various file types directly from local "+
		"paths or URLs.", dest)
}

// DownloadFromInternet fetches a URL inside the sandbox via wget and returns
// the destination path.
func (t *Toolset) DownloadFromInternet(ctx context.Context, sessionID, fileURL, sandboxDir string) string {
	ctx, span := tracer.Start(ctx, "download_file_from_internet_to_sandbox")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := t.backend.Connect(ctx, sessionID)
	if err != nil {
		return connectFailure(sessionID)
	}

	if sandboxDir == "" {
		sandboxDir = sandbox.WorkDir
	}
	dest := path.Join(sandboxDir, path.Base(fileURL))
	command := fmt.Sprintf("wget -q '%s' -O '%s'", fileURL, dest)

	for attempt := 1; ; attempt++ {
		res := t.backend.RunCommand(ctx, sess, command)
		if res.Error == "" && res.ExitCode == 0 {
			return fmt.Sprintf("File downloaded to %s\n\n"+
				"[INFO]: For directly reading files from URLs without downloading to sandbox, "+
				"consider using the `read_file` tool.", dest)
		}
		if attempt == downloadAttempts {
			return fmt.Sprintf("[ERROR]: Failed to download file from %s after %d attempts.\n\n"+
				"[INFO]: To upload local files, use `upload_file_from_local_to_sandbox`.",
				fileURL, downloadAttempts)
		}
		t.sleep(time.Duration(math.Pow(4, float64(attempt))) * time.Second)
	}
}

// DownloadToLocal copies a sandbox file to the local artifact directory and
// returns the local path.
func (t *Toolset) DownloadToLocal(ctx context.Context, sessionID, sandboxPath, localFilename string) string {
	ctx, span := tracer.Start(ctx, "download_file_from_sandbox_to_local")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := t.backend.Connect(ctx, sessionID)
	if err != nil {
		return connectFailure(sessionID)
	}

	if t.logsDir == "" {
		return "[ERROR]: LOGS_DIR environment variable is not set."
	}
	tmpfilesDir := filepath.Join(t.logsDir, "tmpfiles")
	if err := os.MkdirAll(tmpfilesDir, 0o755); err != nil {
		return fmt.Sprintf("[ERROR]: Failed to create local artifact dir %s: %v", tmpfilesDir, err)
	}

	if strings.TrimSpace(localFilename) == "" {
		localFilename = path.Base(sandboxPath)
	}
	localPath := filepath.Join(tmpfilesDir, fmt.Sprintf("sandbox_%s_%s", sessionID, localFilename))

	content, err := t.backend.DownloadFile(ctx, sess, sandboxPath)
	if err != nil {
		return downloadFailure(sandboxPath, sessionID, err)
	}
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return downloadFailure(sandboxPath, sessionID, err)
	}

	return fmt.Sprintf("File downloaded successfully to: %s\n\n"+
		"[INFO]: The file can now be accessed by other tools which only support local "+
		"files and internet URLs, not sandbox files.", localPath)
}

func connectFailure(sessionID string) string {
	return fmt.Sprintf("[ERROR]: Failed to connect to sandbox %s, retry later. "+
		"Make sure the sandbox is created and the id is correct.", sessionID)
}

func downloadFailure(sandboxPath, sessionID string, err error) string {
	return fmt.Sprintf("[ERROR]: Failed to download file %s from sandbox %s: %v\n\n"+
		"[INFO]: To upload local files to the sandbox, use "+
		"`upload_file_from_local_to_sandbox` instead.", sandboxPath, sessionID, err)
}

func isPackageInstall(command string) bool {
	return strings.Contains(command, "pip install") || strings.Contains(command, "apt-get")
}
