// Package gitops announces approved artifacts downstream. The config
// repository owns the actual deployment manifests; all this side does
// is tell it, at least once, that a new digest passed the gates.
package gitops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

const (
	dispatchTimeout = time.Minute
	maxRetries      = 3
)

// Notification is the payload of one dispatch. The digest doubles as
// the idempotency key: delivery is at least once and the receiver is
// expected to treat replays of the same digest as no-ops.
type Notification struct {
	Service string    `json:"service"`
	Digest  string    `json:"digest"`
	Tag     string    `json:"tag"`
	SentAt  time.Time `json:"sentAt"`
}

// Dispatcher hands a promoted artifact to the downstream pipeline.
type Dispatcher interface {
	// Dispatch returns how many attempts were made and whether any
	// succeeded. It never blocks longer than its own bounded retries;
	// exhausting them is for the caller to log, not to fail on.
	Dispatch(ctx context.Context, n Notification) (attempts int, err error)
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPDispatcher posts notifications to the config repository's
// dispatch webhook with bounded exponential backoff.
type HTTPDispatcher struct {
	d      Doer
	url    string
	token  string
	logger log.Logger

	newBackoff func() backoff.BackOff
}

var _ Dispatcher = &HTTPDispatcher{}

func NewHTTPDispatcher(d Doer, url, token string, logger log.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		d:      d,
		url:    url,
		token:  token,
		logger: logger,
		newBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
		},
	}
}

func (h *HTTPDispatcher) Dispatch(ctx context.Context, n Notification) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}

	var attempts int
	operation := func() error {
		attempts++
		return h.post(ctx, n)
	}
	begin := time.Now()
	err := backoff.Retry(operation, backoff.WithContext(h.newBackoff(), ctx))
	if err != nil {
		return attempts, errors.Wrapf(err, "dispatching %s after %d attempt(s)", n.Service, attempts)
	}
	h.logger.Log("service", n.Service, "digest", n.Digest, "attempts", attempts, "took", time.Since(begin))
	return attempts, nil
}

func (h *HTTPDispatcher) post(ctx context.Context, n Notification) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(n); err != nil {
		return backoff.Permanent(errors.Wrap(err, "encoding dispatch"))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", h.url, buf)
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "constructing dispatch HTTP request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.Digest)
	if h.token != "" {
		req.Header.Set("Authorization", "Scope-Probe token="+h.token)
	}

	resp, err := h.d.Do(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP POST dispatch")
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// the receiver rejected the payload; retrying the same bytes
		// will not go differently
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
		return backoff.Permanent(fmt.Errorf("%s from dispatch endpoint (%s)", resp.Status, strings.TrimSpace(string(body))))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
		return fmt.Errorf("%s from dispatch endpoint (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
}

// NopDispatcher is used when no downstream pipeline is configured;
// dispatches succeed without going anywhere.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Notification) (int, error) { return 0, nil }
