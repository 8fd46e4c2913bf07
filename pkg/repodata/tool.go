package repodata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmgilman/go/exec"
)

// Tool runs the metadata generator and returns its standard output.
type Tool interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// Createrepo invokes createrepo_c from PATH.
type Createrepo struct {
	exec exec.Executor
}

func NewCreaterepo() *Createrepo {
	return &Createrepo{exec: exec.NewWrapper(exec.New(exec.WithInheritEnv()), "createrepo_c")}
}

func (c *Createrepo) Run(ctx context.Context, args ...string) (string, error) {
	// Executors carry per-run state; every call gets its own copy.
	res, err := c.exec.Clone().WithContext(ctx).Run(args...)
	if err != nil {
		var execErr *exec.ExecError
		if errors.As(err, &execErr) && strings.TrimSpace(execErr.Stderr) != "" {
			return "", fmt.Errorf("createrepo_c exited with %d: %s", execErr.ExitCode, strings.TrimSpace(execErr.Stderr))
		}
		return "", fmt.Errorf("createrepo_c: %w", err)
	}
	return res.Stdout, nil
}
