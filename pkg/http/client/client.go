// Package client is the HTTP client for the daemon API, used by
// gateshiftctl and anything else that wants to drive a daemon
// remotely.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/api"
	gserr "github.com/gateshift/gateshift/pkg/errors"
	"github.com/gateshift/gateshift/pkg/event"
	transport "github.com/gateshift/gateshift/pkg/http"
	"github.com/gateshift/gateshift/pkg/job"
	"github.com/gateshift/gateshift/pkg/release"
	"github.com/gateshift/gateshift/pkg/rollout"
)

type Token string

func (t Token) Set(req *http.Request) {
	if string(t) != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Scope-Probe token=%s", t))
	}
}

type Client struct {
	client   *http.Client
	token    Token
	router   *mux.Router
	endpoint string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint string, t Token) *Client {
	return &Client{
		client:   c,
		token:    t,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, nil, transport.Ping)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.get(ctx, &v, transport.Version)
	return v, err
}

func (c *Client) NotifyChange(ctx context.Context, change event.Change) (job.ID, error) {
	var id job.ID
	err := c.methodWithResp(ctx, "POST", &id, transport.Notify, change)
	return id, err
}

func (c *Client) JobStatus(ctx context.Context, id job.ID) (job.Status, error) {
	var res job.Status
	err := c.get(ctx, &res, transport.JobStatus, "id", string(id))
	return res, err
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]release.Run, error) {
	var res []release.Run
	err := c.get(ctx, &res, transport.ListRuns, "limit", strconv.Itoa(limit))
	return res, err
}

func (c *Client) GetRun(ctx context.Context, id string) (release.Run, error) {
	var res release.Run
	err := c.get(ctx, &res, transport.GetRun, "id", id)
	return res, err
}

func (c *Client) ListRollouts(ctx context.Context) ([]rollout.Info, error) {
	var res []rollout.Info
	err := c.get(ctx, &res, transport.ListRollouts)
	return res, err
}

func (c *Client) RolloutStatus(ctx context.Context, service, environment string) (rollout.Info, error) {
	var res rollout.Info
	err := c.get(ctx, &res, transport.RolloutStatus, "service", service, "environment", environment)
	return res, err
}

func (c *Client) PauseRollout(ctx context.Context, service, environment string) error {
	return c.postWithBody(ctx, transport.PauseRollout, nil, "service", service, "environment", environment)
}

func (c *Client) ResumeRollout(ctx context.Context, service, environment string) error {
	return c.postWithBody(ctx, transport.ResumeRollout, nil, "service", service, "environment", environment)
}

func (c *Client) CancelRollout(ctx context.Context, service, environment, reason string) error {
	return c.postWithBody(ctx, transport.CancelRollout, reason, "service", service, "environment", environment)
}

func (c *Client) History(ctx context.Context, service string, limit int) ([]event.Event, error) {
	var res []event.Event
	err := c.get(ctx, &res, transport.History, "service", service, "limit", strconv.Itoa(limit))
	return res, err
}

// WatchURL is the websocket endpoint for the live event stream.
func (c *Client) WatchURL() (*url.URL, error) {
	u, err := transport.MakeURL(c.endpoint, c.router, transport.WatchEvents)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u, nil
}

// Token exposes the configured token, for the websocket dialer.
func (c *Client) Token() Token {
	return c.token
}

// --- request helpers

// postWithBody posts a json-ified body, if body is not nil, to a
// route with query params.
func (c *Client) postWithBody(ctx context.Context, route string, body interface{}, queryParams ...string) error {
	return c.methodWithResp(ctx, "POST", nil, route, body, queryParams...)
}

// methodWithResp is the full enchilada: it handles body and
// query-param encoding, as well as decoding the response into the
// provided destination. Note, the response will only be decoded into
// the dest if the len is > 0.
func (c *Client) methodWithResp(ctx context.Context, method string, dest interface{}, route string, body interface{}, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequest(method, u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)

	c.token.Set(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	respBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	if len(respBytes) <= 0 {
		return nil
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, &dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

// get executes a get request against the daemon. It unmarshals the
// response into dest, if not nil.
func (c *Client) get(ctx context.Context, dest interface{}, route string, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)

	c.token.Set(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return resp, nil
	case http.StatusUnauthorized:
		return resp, transport.ErrorUnauthorized
	default:
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return resp, errors.Wrap(err, "reading response body of error")
		}
		// Use the content type to discriminate between a structured
		// error and "any old error".
		if strings.HasPrefix(resp.Header.Get(http.CanonicalHeaderKey("Content-Type")), "application/json") {
			var niceError gserr.Error
			if err := json.Unmarshal(body, &niceError); err != nil {
				return resp, errors.Wrap(err, "decoding response body of error")
			}
			// just in case it's JSON but not one of our own errors
			if niceError.Err != nil {
				return resp, &niceError
			}
			// fallthrough
		}
		return resp, errors.New(resp.Status + " " + string(body))
	}
}
