package git

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/event"
)

const defaultExportTimeout = 3 * time.Minute

// Exporter materialises the source tree for a change by cloning the
// service's repository into a scratch directory and checking out the
// notified revision.
type Exporter struct {
	// urlTemplate has one %s verb, filled with the service name, e.g.
	// "ssh://git@github.example.com/platform/%s.git".
	urlTemplate string
	timeout     time.Duration
	logger      log.Logger
}

func NewExporter(urlTemplate string, timeout time.Duration, logger log.Logger) *Exporter {
	if timeout <= 0 {
		timeout = defaultExportTimeout
	}
	return &Exporter{urlTemplate: urlTemplate, timeout: timeout, logger: logger}
}

// Export clones and checks out; the returned cleanup removes the
// scratch directory. On error there is nothing to clean up.
func (e *Exporter) Export(ctx context.Context, change event.Change) (string, func() error, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	dir, err := ioutil.TempDir("", "gateshift-export-")
	if err != nil {
		return "", nil, errors.Wrap(err, "creating export directory")
	}
	cleanup := func() error { return os.RemoveAll(dir) }

	url := fmt.Sprintf(e.urlTemplate, change.Service)
	start := time.Now()
	if err := clone(ctx, url, dir); err != nil {
		cleanup()
		return "", nil, err
	}
	if err := checkout(ctx, dir, change.Revision); err != nil {
		cleanup()
		return "", nil, err
	}
	e.logger.Log("exported", change.Service, "revision", change.Revision, "took", time.Since(start))
	return dir, cleanup, nil
}
