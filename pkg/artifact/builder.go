package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

// DefaultBuildTimeout bounds a build whose config does not set one.
const DefaultBuildTimeout = 15 * time.Minute

var buildDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "gateshift",
	Subsystem: "artifact",
	Name:      "build_duration_seconds",
	Help:      "Duration of artifact builds, in seconds.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
}, []string{gsmetrics.LabelService, gsmetrics.LabelSuccess})

// BuildRequest says what to build and from where.
type BuildRequest struct {
	Service  string
	Branch   string
	Revision string
	// Workdir is the checked-out tree at Revision.
	Workdir string
	// Command is the opaque build command from pipeline config.
	Command string
	Timeout time.Duration
}

// BuildError means the artifact could not be produced. It is fatal
// for the run; there is nothing to scan or roll out.
type BuildError struct {
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Output)
	}
	return e.Err.Error()
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder produces artifacts by running the pipeline's build command
// and registers them, un-promoted, in the artifact registry.
type Builder struct {
	registry Registry
	logger   log.Logger
}

func NewBuilder(registry Registry, logger log.Logger) *Builder {
	return &Builder{registry: registry, logger: logger}
}

// Build computes the artifact digest from its inputs, runs the build
// command, and pushes the result. The digest is a function of the
// source and config alone, so rebuilding the same revision always
// yields the same artifact identity.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (Artifact, error) {
	begin := time.Now()
	a, err := b.build(ctx, req)
	buildDuration.With(
		gsmetrics.LabelService, req.Service,
		gsmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(begin).Seconds())
	return a, err
}

func (b *Builder) build(ctx context.Context, req BuildRequest) (Artifact, error) {
	tree, err := TreeDigest(req.Workdir)
	if err != nil {
		return Artifact{}, &BuildError{Err: errors.Wrap(err, "fingerprinting source tree")}
	}

	a := Artifact{
		Service:  req.Service,
		Tag:      MakeTag(req.Branch, req.Revision),
		Digest:   ContentDigest(req.Service, req.Revision, tree, req.Command),
		Revision: req.Revision,
		Branch:   req.Branch,
		BuiltAt:  time.Now(),
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(cmdCtx, "/bin/sh", "-c", req.Command)
	c.Dir = req.Workdir
	c.Env = append(os.Environ(),
		"GATESHIFT_SERVICE="+req.Service,
		"GATESHIFT_REVISION="+req.Revision,
		"GATESHIFT_TAG="+a.Tag,
		"GATESHIFT_DIGEST="+a.Digest.String(),
	)
	stdOutAndStdErr := &bytes.Buffer{}
	c.Stdout = stdOutAndStdErr
	c.Stderr = stdOutAndStdErr

	runErr := c.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return Artifact{}, &BuildError{Err: errors.Wrapf(cmdCtx.Err(), "building %s (timeout %s)", req.Service, timeout)}
	}
	if runErr != nil {
		return Artifact{}, &BuildError{
			Output: lastLines(stdOutAndStdErr.String(), 2048),
			Err:    errors.Wrapf(runErr, "building %s", req.Service),
		}
	}

	if err := b.registry.Push(ctx, a); err != nil {
		return Artifact{}, &BuildError{Err: errors.Wrap(err, "pushing artifact")}
	}

	b.logger.Log("service", req.Service, "tag", a.Tag, "digest", a.Digest, "took", time.Since(a.BuiltAt))
	return a, nil
}

// lastLines keeps the tail of build output for the error message; the
// interesting part of a failed build log is the end.
func lastLines(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
