// Package daemon is the HTTP server side of the daemon API.
package daemon

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/gateshift/gateshift/pkg/api"
	"github.com/gateshift/gateshift/pkg/event"
	transport "github.com/gateshift/gateshift/pkg/http"
	"github.com/gateshift/gateshift/pkg/http/websocket"
	"github.com/gateshift/gateshift/pkg/job"
	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "gateshift",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{gsmetrics.LabelMethod, gsmetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// NewRouter makes the API router, with a catch-all for requests that
// match nothing; those are assumed to be from old or faulty clients.
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()

	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})

	return r
}

// NewHandler attaches handlers for the server to the router's routes,
// and wraps the whole lot in request instrumentation. The bus feeds
// the live event stream; it may be nil, in which case watching is a
// 404.
func NewHandler(s api.Server, bus *event.Bus, r *mux.Router) http.Handler {
	handle := HTTPServer{server: s, bus: bus}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)
	r.Get(transport.Notify).HandlerFunc(handle.Notify)
	r.Get(transport.JobStatus).HandlerFunc(handle.JobStatus)
	r.Get(transport.ListRuns).HandlerFunc(handle.ListRuns)
	r.Get(transport.GetRun).HandlerFunc(handle.GetRun)
	r.Get(transport.ListRollouts).HandlerFunc(handle.ListRollouts)
	r.Get(transport.RolloutStatus).HandlerFunc(handle.RolloutStatus)
	r.Get(transport.PauseRollout).HandlerFunc(handle.PauseRollout)
	r.Get(transport.ResumeRollout).HandlerFunc(handle.ResumeRollout)
	r.Get(transport.CancelRollout).HandlerFunc(handle.CancelRollout)
	r.Get(transport.History).HandlerFunc(handle.History)
	r.Get(transport.WatchEvents).HandlerFunc(handle.WatchEvents)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server api.Server
	bus    *event.Bus
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) Notify(w http.ResponseWriter, r *http.Request) {
	var change event.Change
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	id, err := s.server.NotifyChange(r.Context(), change)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, id)
}

func (s HTTPServer) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := job.ID(mux.Vars(r)["id"])
	status, err := s.server.JobStatus(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, status)
}

func (s HTTPServer) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit")
	runs, err := s.server.ListRuns(r.Context(), limit)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, runs)
}

func (s HTTPServer) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.server.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, run)
}

func (s HTTPServer) ListRollouts(w http.ResponseWriter, r *http.Request) {
	infos, err := s.server.ListRollouts(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, infos)
}

func (s HTTPServer) RolloutStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	info, err := s.server.RolloutStatus(r.Context(), vars["service"], vars["environment"])
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, info)
}

func (s HTTPServer) PauseRollout(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.server.PauseRollout(r.Context(), vars["service"], vars["environment"]); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) ResumeRollout(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.server.ResumeRollout(r.Context(), vars["service"], vars["environment"]); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) CancelRollout(w http.ResponseWriter, r *http.Request) {
	var reason string
	defer r.Body.Close()
	// The reason is optional; an empty body is fine.
	if err := json.NewDecoder(r.Body).Decode(&reason); err != nil && err != io.EOF {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	vars := mux.Vars(r)
	if err := s.server.CancelRollout(r.Context(), vars["service"], vars["environment"], reason); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) History(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	limit := intParam(r, "limit")
	events, err := s.server.History(r.Context(), service, limit)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, events)
}

// WatchEvents streams events over a websocket, one JSON document per
// message, until the client goes away.
func (s HTTPServer) WatchEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
		return
	}
	ws, err := websocket.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		return
	}
	defer ws.Close()

	events, cancel := s.bus.Subscribe()
	defer cancel()

	// Drain the read side so pings and the client's close frame get
	// processed.
	closed := make(chan struct{})
	go func() {
		io.Copy(ioutil.Discard, ws)
		close(closed)
	}()

	enc := json.NewEncoder(ws)
	for {
		select {
		case <-closed:
			return
		case e := <-events:
			if err := enc.Encode(e); err != nil {
				return
			}
		}
	}
}

func intParam(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
