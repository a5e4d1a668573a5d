package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/scan"
)

// Batch is one upload to the vulnerability management sink. The
// idempotency key lets the sink drop replays: retries and journal
// evictions can both cause the same batch to arrive twice.
type Batch struct {
	Service string        `json:"service"`
	Target  string        `json:"target"` // revision for source scans, digest for image scans
	Key     string        `json:"idempotencyKey"`
	Results []scan.Result `json:"results"`
	SentAt  time.Time     `json:"sentAt"`
}

// Sink is wherever findings get recorded for the security team. The
// release path never waits on it and never fails because of it.
type Sink interface {
	Upload(ctx context.Context, batch Batch) error
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPSink posts batches to a webhook-style endpoint.
type HTTPSink struct {
	d     Doer
	url   string
	token string
}

func NewHTTPSink(d Doer, url, token string) *HTTPSink {
	return &HTTPSink{d: d, url: url, token: token}
}

func (s *HTTPSink) Upload(ctx context.Context, batch Batch) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(batch); err != nil {
		return errors.Wrap(err, "encoding sink upload")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, buf)
	if err != nil {
		return errors.Wrap(err, "constructing sink HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", batch.Key)
	if s.token != "" {
		req.Header.Set("Authorization", "Scope-Probe token="+s.token)
	}

	resp, err := s.d.Do(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP POST to sink")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
		return fmt.Errorf("%s from sink (%s)", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// DiscardSink accepts every batch and throws it away, for
// installations without a vulnerability sink configured.
type DiscardSink struct{}

func (DiscardSink) Upload(context.Context, Batch) error { return nil }
