// Package launcher starts the shell commands multi dispatches work to:
// mappers always, and the splitter/combiner when the caller supplies an
// external command instead of using the built-in policy. Every launched
// command runs as the user's own shell, wired directly to FIFOs rather
// than isolated.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/parallelshell/multi/pkg/sandbox"
	"github.com/parallelshell/multi/pkg/tailbuffer"
)

// stderrTailSize is how much of a launched command's stderr is retained for
// a diagnostic log line if it exits with an error; the full stream is still
// mirrored to the multi process's own stderr as it's produced.
const stderrTailSize = 4096

// Role names the kind of command being launched, for logging only.
type Role string

const (
	RoleMapper   Role = "mapper"
	RoleSplitter Role = "splitter"
	RoleCombiner Role = "combiner"
)

// Handle is a started shell command. It behaves like sandbox.Sandbox but
// additionally retains a tail of the command's stderr output for
// post-mortem logging.
type Handle struct {
	sandbox.Sandbox
	tail *tailbuffer.Buffer
}

// StderrTail returns (and consumes) whatever of the command's recent
// stderr output is still buffered. It's meant to be called once, after the
// command has exited, to attach context to a failure log line.
func (h *Handle) StderrTail() string {
	buf := make([]byte, stderrTailSize)
	n, _ := h.tail.Read(buf)
	return string(buf[:n])
}

// Launch starts `sh -c command` with its stdin and stdout wired to in and
// out. A nil in or out leaves the corresponding descriptor connected to the
// null device (os/exec's default); it is not inherited from the multi
// process. id is exported to the command as
// MAPPER_ID, letting a command template address its own slot without an
// explicit {} substitution; splitter and combiner commands receive id -1.
func Launch(ctx context.Context, role Role, id int, command string, in, out *os.File) (*Handle, error) {
	tail := tailbuffer.New(stderrTailSize)

	sb, err := sandbox.Create(ctx, func(cmd *exec.Cmd) {
		if in != nil {
			cmd.Stdin = in
		}
		if out != nil {
			cmd.Stdout = out
		}
		cmd.Stderr = io.MultiWriter(os.Stderr, tail)
		cmd.Env = append(os.Environ(), fmt.Sprintf("MAPPER_ID=%d", id))
	}, "sh", "-c", command)
	if err != nil {
		return nil, err
	}

	return &Handle{Sandbox: sb, tail: tail}, nil
}
