package assembler

import (
	"context"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Runner executes the external partitioning and filesystem tools. Tests swap
// in a fake so no block device is ever touched.
type Runner interface {
	// Run executes a command and returns its combined output.
	Run(name string, args ...string) ([]byte, error)
	// RunInput executes a command feeding input to its stdin, for tools that
	// only offer an interactive session.
	RunInput(input string, name string, args ...string) ([]byte, error)
}

type execRunner struct {
	timeout time.Duration
}

// NewRunner returns a Runner backed by os/exec. A zero timeout means the
// tools block until they finish; a positive timeout kills a hung tool and
// reports the run as failed.
func NewRunner(timeout time.Duration) Runner {
	return &execRunner{timeout: timeout}
}

func (r *execRunner) command(name string, args ...string) (*exec.Cmd, context.CancelFunc) {
	if r.timeout <= 0 {
		return exec.Command(name, args...), func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	return exec.CommandContext(ctx, name, args...), cancel
}

func (r *execRunner) Run(name string, args ...string) ([]byte, error) {
	cmd, cancel := r.command(name, args...)
	defer cancel()
	log.WithField("cmd", name+" "+strings.Join(args, " ")).Debug("running tool")
	return cmd.CombinedOutput()
}

func (r *execRunner) RunInput(input string, name string, args ...string) ([]byte, error) {
	cmd, cancel := r.command(name, args...)
	defer cancel()
	cmd.Stdin = strings.NewReader(input)
	log.WithField("cmd", name+" "+strings.Join(args, " ")).Debug("running tool with scripted input")
	return cmd.CombinedOutput()
}
