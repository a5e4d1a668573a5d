// Package git exports working trees for pipeline runs by cloning the
// service's repository at the notified revision.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Whitelist of env vars the git subprocess inherits; everything else
// is withheld.
var allowedEnvVars = []string{
	"PATH", "HOME", "USER",
	"GIT_SSH", "GIT_SSH_COMMAND", "SSH_AUTH_SOCK", "SSH_AGENT_PID",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
}

type gitCmdConfig struct {
	dir string
	env []string
}

// execGitCmd runs a `git` command with the supplied arguments.
func execGitCmd(ctx context.Context, args []string, config gitCmdConfig) (string, error) {
	c := exec.CommandContext(ctx, "git", args...)

	if config.dir != "" {
		c.Dir = config.dir
	}
	c.Env = append(env(), config.env...)
	out := &bytes.Buffer{}
	c.Stdout = out
	c.Stderr = out

	err := c.Run()
	if err != nil && out.Len() > 0 {
		err = errors.New(strings.TrimSpace(out.String()))
	}

	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.Wrap(ctx.Err(), fmt.Sprintf("running git command: git %v", args))
	} else if ctx.Err() == context.Canceled {
		return "", errors.Wrap(ctx.Err(), fmt.Sprintf("context was unexpectedly cancelled when running git command: git %v", args))
	}
	return strings.TrimSpace(out.String()), err
}

func env() []string {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func clone(ctx context.Context, repoURL, dir string) error {
	_, err := execGitCmd(ctx, []string{"clone", "--quiet", repoURL, dir}, gitCmdConfig{})
	return errors.Wrapf(err, "cloning %s", repoURL)
}

func checkout(ctx context.Context, dir, ref string) error {
	_, err := execGitCmd(ctx, []string{"checkout", "--quiet", ref, "--"}, gitCmdConfig{dir: dir})
	return errors.Wrapf(err, "checking out %s", ref)
}

func headRevision(ctx context.Context, dir string) (string, error) {
	return execGitCmd(ctx, []string{"rev-parse", "HEAD"}, gitCmdConfig{dir: dir})
}
