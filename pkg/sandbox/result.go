package sandbox

import (
	"fmt"
	"strings"
)

// CommandResult holds the captured output of one shell command. ExitCode
// reflects the executed program; Error is set only when the operation itself
// could not be carried out, in which case ExitCode defaults to 1.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Error    string
}

func (r *CommandResult) String() string {
	return render("CommandResult", r.ExitCode, r.Stdout, r.Stderr, r.Error)
}

// CodeResult holds the captured output of one code-block execution. Same
// error contract as CommandResult.
type CodeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Error    string
}

func (r *CodeResult) String() string {
	return render("CodeResult", r.ExitCode, r.Stdout, r.Stderr, r.Error)
}

func render(kind string, exitCode int, stdout, stderr, errMsg string) string {
	parts := []string{fmt.Sprintf("exit_code=%d", exitCode)}
	if stdout != "" {
		parts = append(parts, "stdout="+stdout)
	}
	if stderr != "" {
		parts = append(parts, "stderr="+stderr)
	}
	if errMsg != "" {
		parts = append(parts, "error="+errMsg)
	}
	return kind + "(" + strings.Join(parts, ", ") + ")"
}
