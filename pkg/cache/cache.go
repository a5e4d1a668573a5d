package cache

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	gserr "github.com/gateshift/gateshift/pkg/errors"
)

// ErrNotCached is returned on a miss, so callers can tell "never
// published" apart from "journal unavailable".
var ErrNotCached = &gserr.Error{
	Type: gserr.Missing,
	Err:  errors.New("item not in cache"),
	Help: `Item not in cache

This is usually harmless: it means the thing you asked about has not
been recorded (yet).`,
}

type Reader interface {
	// GetKey gets the value at a key
	GetKey(k Keyer) ([]byte, error)
}

type Writer interface {
	// SetKey sets the value at a key, kept until at least the given expiry
	SetKey(k Keyer, expiry time.Time, v []byte) error
}

type Client interface {
	Reader
	Writer
}

// An interface to provide the key under which to store the data.
// Keys carry a format version so a change in what we record never
// collides with entries written by an older daemon.
type Keyer interface {
	Key() string
}

type publishKey struct {
	taskID, targetKey, sum string
}

// NewPublishKey identifies one task's findings for one target, by
// content. The reporter uses it to journal what has already been
// published to the vulnerability sink.
func NewPublishKey(taskID, targetKey, sum string) Keyer {
	return &publishKey{taskID, targetKey, sum}
}

func (k *publishKey) Key() string {
	return strings.Join([]string{
		"publishjournalv1", // Bump the version number if the journal format changes
		k.taskID,
		k.targetKey,
		k.sum,
	}, "|")
}

type dispatchKey struct {
	service, digest string
}

// NewDispatchKey identifies one gitops dispatch, so redelivery after
// a crash stays idempotent downstream.
func NewDispatchKey(service, digest string) Keyer {
	return &dispatchKey{service, digest}
}

func (k *dispatchKey) Key() string {
	return strings.Join([]string{
		"dispatchjournalv1",
		k.service,
		k.digest,
	}, "|")
}

const (
	// The minimum expiry given to an entry.
	MinExpiry = time.Hour
)

// GracePeriod pads an expiry so entries outlive their nominal
// deadline; the journal exists to suppress duplicates, an early
// eviction just means one duplicate upload.
func GracePeriod(expiry time.Time) time.Duration {
	d := time.Until(expiry) * 2
	if d < MinExpiry {
		d = MinExpiry
	}
	return d
}
