package daemon

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/event"
	gserr "github.com/gateshift/gateshift/pkg/errors"
	"github.com/gateshift/gateshift/pkg/job"
)

func errMalformedChange(change event.Change) error {
	return &gserr.Error{
		Type: gserr.User,
		Err:  errors.New("change is missing a service or revision"),
		Help: fmt.Sprintf(`The change notification is incomplete.

A change must name at least the service it belongs to and the revision
that changed; got service=%q revision=%q. Check the payload your CI
system sends to the notify endpoint.
`, change.Service, change.Revision),
	}
}

func errUnknownJob(id job.ID) error {
	return &gserr.Error{
		Type: gserr.Missing,
		Err:  fmt.Errorf("unknown job %q", string(id)),
		Help: `The job is not known to the daemon.

Job statuses are kept for a bounded number of recent jobs; either the
ID is wrong, or the job is old enough to have been forgotten.
`,
	}
}

func errUnknownRun(id string) error {
	return &gserr.Error{
		Type: gserr.Missing,
		Err:  fmt.Errorf("unknown run %q", id),
		Help: `The run is not known to the daemon.

Runs are kept for a bounded number of recent pipeline executions;
either the ID is wrong, or the run is old enough to have been
forgotten.
`,
	}
}

func errNoRollout(service, environment string, cause error) error {
	return &gserr.Error{
		Type: gserr.Missing,
		Err:  cause,
		Help: fmt.Sprintf(`No active rollout for %s in %s.

Rollouts only exist while traffic is being shifted; once completed,
failed or superseded they disappear from the active set. Use the run
history to see how past rollouts ended.
`, service, environment),
	}
}
