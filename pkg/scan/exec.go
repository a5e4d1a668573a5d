package scan

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Env vars that are allowed to be inherited from the OS; scanners that
// need anything else get it written into their command.
var allowedEnvVars = []string{
	"http_proxy", "https_proxy", "no_proxy", "HTTPS_PROXY", "NO_PROXY",
	"HOME", "PATH", "TMPDIR",
	// cloud SDK credentials for scanners that pull vulnerability DBs
	"AWS_SHARED_CREDENTIALS_FILE", "CLOUDSDK_CONFIG",
}

// ReportStore persists raw tool reports for audit. The runner only
// needs the write half of whatever store is wired in.
type ReportStore interface {
	SaveReport(ctx context.Context, key string, body []byte) (ref string, err error)
}

// LaunchLimits meters how fast scanner processes may be launched,
// per tool. Vulnerability scanners hammer their advisory databases on
// startup; launching twenty at once gets the daemon throttled upstream.
type LaunchLimits struct {
	RPS   float64
	Burst int

	mu      sync.Mutex
	perTool map[string]*rate.Limiter
}

func NewLaunchLimits(rps float64, burst int) *LaunchLimits {
	return &LaunchLimits{RPS: rps, Burst: burst, perTool: map[string]*rate.Limiter{}}
}

func (l *LaunchLimits) limiter(tool string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.perTool[tool]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.RPS), l.Burst)
	l.perTool[tool] = lim
	return lim
}

// Wait blocks until the tool may be launched, or the context ends.
func (l *LaunchLimits) Wait(ctx context.Context, tool string) error {
	return l.limiter(tool).Wait(ctx)
}

// ExecRunner runs one scanner as an external command and normalises
// whatever comes back. A tool crashing, timing out, or writing a
// report nothing can parse becomes a tool_error result; it never
// becomes an error that aborts the batch.
type ExecRunner struct {
	// Shell runs the rendered command; defaults to /bin/sh.
	Shell  string
	Store  ReportStore
	Limits *LaunchLimits
	Logger log.Logger
}

func NewExecRunner(store ReportStore, limits *LaunchLimits, logger log.Logger) *ExecRunner {
	return &ExecRunner{Shell: "/bin/sh", Store: store, Limits: limits, Logger: logger}
}

var _ Runner = &ExecRunner{}

func (r *ExecRunner) Run(ctx context.Context, task Task, target Target) Result {
	res := Result{
		TaskID:    task.ID,
		Tool:      task.Tool,
		Stage:     task.Stage,
		StartedAt: time.Now(),
	}
	fail := func(err error) Result {
		res.Status = StatusToolError
		res.Err = err.Error()
		res.FinishedAt = time.Now()
		r.Logger.Log("task", task.ID, "tool", task.Tool, "status", res.Status, "err", err)
		return res
	}

	adapter, err := LookupAdapter(task.AdapterName())
	if err != nil {
		return fail(err)
	}

	if r.Limits != nil {
		if err := r.Limits.Wait(ctx, task.Tool); err != nil {
			return fail(errors.Wrapf(err, "waiting to launch %s", task.Tool))
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, task.EffectiveTimeout())
	defer cancel()

	command, outputFile, err := renderCommand(task.Command, target)
	if err != nil {
		return fail(err)
	}
	if outputFile != "" {
		defer os.Remove(outputFile)
	}

	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	c := exec.CommandContext(cmdCtx, shell, "-c", command)
	if target.Dir != "" {
		c.Dir = target.Dir
	}
	c.Env = scanEnv(target)

	stdout := &bytes.Buffer{}
	stdOutAndStdErr := &threadSafeBuffer{}
	c.Stdout = io.MultiWriter(stdout, stdOutAndStdErr)
	c.Stderr = stdOutAndStdErr

	runErr := c.Run()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return fail(errors.Wrapf(cmdCtx.Err(), "running %s (timeout %s)", task.Tool, task.EffectiveTimeout()))
	}
	if ctx.Err() == context.Canceled {
		return fail(errors.Wrapf(ctx.Err(), "running %s", task.Tool))
	}

	exitCode := 0
	if runErr != nil {
		ee, ok := runErr.(*exec.ExitError)
		if !ok {
			return fail(errors.Wrapf(runErr, "launching %s", task.Tool))
		}
		exitCode = ee.ExitCode()
	}

	report := stdout.Bytes()
	if outputFile != "" {
		report, err = os.ReadFile(outputFile)
		if err != nil {
			return fail(errors.Wrapf(err, "reading %s report file", task.Tool))
		}
	}

	counts, err := adapter.Normalize(exitCode, report)
	if err != nil {
		if out := stdOutAndStdErr.String(); out != "" {
			err = errors.Wrap(err, truncate(out, 512))
		}
		return fail(err)
	}

	if r.Store != nil && len(report) > 0 {
		key := filepath.Join(target.Service, target.Key(), task.ID+".json")
		ref, err := r.Store.SaveReport(ctx, key, report)
		if err != nil {
			r.Logger.Log("task", task.ID, "warning", "raw report not stored", "err", err)
		} else {
			res.RawRef = ref
		}
	}

	res.Findings = counts
	res.Status = StatusSuccess
	if counts.Total() > 0 {
		res.Status = StatusFindings
	}
	res.FinishedAt = time.Now()
	r.Logger.Log("task", task.ID, "tool", task.Tool, "status", res.Status, "findings", counts.String(), "took", res.Duration())
	return res
}

// renderCommand expands the task's command template for the target.
// If the template mentions {{output}} the tool writes its report to a
// file the runner provides; otherwise stdout is the report.
func renderCommand(command string, target Target) (rendered, outputFile string, err error) {
	if strings.Contains(command, "{{output}}") {
		f, err := os.CreateTemp("", "gateshift-report-*.json")
		if err != nil {
			return "", "", errors.Wrap(err, "creating report file")
		}
		outputFile = f.Name()
		f.Close()
	}
	replacer := strings.NewReplacer(
		"{{workdir}}", target.Dir,
		"{{target}}", renderTarget(target),
		"{{revision}}", target.Revision,
		"{{output}}", outputFile,
	)
	return replacer.Replace(command), outputFile, nil
}

// renderTarget is the tool-facing subject: the image ref when one
// exists, the working tree otherwise.
func renderTarget(target Target) string {
	if target.Image != "" {
		return target.Image
	}
	return target.Dir
}

func scanEnv(target Target) []string {
	env := []string{
		"GATESHIFT_SERVICE=" + target.Service,
		"GATESHIFT_REVISION=" + target.Revision,
	}
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type threadSafeBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *threadSafeBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *threadSafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
