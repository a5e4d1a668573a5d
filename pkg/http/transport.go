package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	gserr "github.com/gateshift/gateshift/pkg/errors"
)

// NewAPIRouter declares every route the daemon serves. Handlers are
// attached separately, so the client can use the same router to build
// URLs.
func NewAPIRouter() *mux.Router {
	r := mux.NewRouter()

	r.NewRoute().Name(Ping).Methods("GET").Path("/v1/ping")
	r.NewRoute().Name(Version).Methods("GET").Path("/v1/version")
	r.NewRoute().Name(Notify).Methods("POST").Path("/v1/notify")

	r.NewRoute().Name(JobStatus).Methods("GET").Path("/v1/jobs").Queries("id", "{id}")

	r.NewRoute().Name(ListRuns).Methods("GET").Path("/v1/runs")
	r.NewRoute().Name(GetRun).Methods("GET").Path("/v1/run").Queries("id", "{id}")

	r.NewRoute().Name(ListRollouts).Methods("GET").Path("/v1/rollouts")
	r.NewRoute().Name(RolloutStatus).Methods("GET").Path("/v1/rollout").Queries("service", "{service}", "environment", "{environment}")
	r.NewRoute().Name(PauseRollout).Methods("POST").Path("/v1/rollout/pause").Queries("service", "{service}", "environment", "{environment}")
	r.NewRoute().Name(ResumeRollout).Methods("POST").Path("/v1/rollout/resume").Queries("service", "{service}", "environment", "{environment}")
	r.NewRoute().Name(CancelRollout).Methods("POST").Path("/v1/rollout/cancel").Queries("service", "{service}", "environment", "{environment}")

	r.NewRoute().Name(History).Methods("GET").Path("/v1/history")
	r.NewRoute().Name(WatchEvents).Methods("GET").Path("/v1/events")

	return r
}

func MakeURL(endpoint string, router *mux.Router, routeName string, urlParams ...string) (*url.URL, error) {
	if len(urlParams)%2 != 0 {
		panic("urlParams must be even!")
	}

	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	route := router.Get(routeName)
	if route == nil {
		return nil, errors.New("no route with name " + routeName)
	}
	routeURL, err := route.URLPath()
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving route path %s", routeName)
	}

	v := url.Values{}
	for i := 0; i < len(urlParams); i += 2 {
		v.Add(urlParams[i], urlParams[i+1])
	}

	endpointURL.Path = path.Join(endpointURL.Path, routeURL.Path)
	endpointURL.RawQuery = v.Encode()
	return endpointURL, nil
}

func WriteError(w http.ResponseWriter, r *http.Request, code int, err error) {
	// An Accept header with "application/json" is sent by clients
	// understanding how to decode JSON errors. Clients that don't send
	// an Accept header just get the error text.
	if len(r.Header.Get("Accept")) > 0 {
		switch negotiateContentType(r, []string{"application/json", "text/plain"}) {
		case "application/json":
			body, encodeErr := json.Marshal(err)
			if encodeErr != nil {
				w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "Error encoding error response: %s\n\nOriginal error: %s", encodeErr.Error(), err.Error())
				return
			}
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "application/json; charset=utf-8")
			w.WriteHeader(code)
			w.Write(body)
			return
		case "text/plain":
			w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
			w.WriteHeader(code)
			switch err := err.(type) {
			case *gserr.Error:
				fmt.Fprint(w, err.Help)
			default:
				fmt.Fprint(w, err.Error())
			}
			return
		}
	}
	w.Header().Set(http.CanonicalHeaderKey("Content-Type"), "text/plain; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, err.Error())
}

func JSONResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func ErrorResponse(w http.ResponseWriter, r *http.Request, apiError error) {
	var outErr *gserr.Error
	var code int
	var ok bool

	err := errors.Cause(apiError)
	if outErr, ok = err.(*gserr.Error); !ok {
		outErr = gserr.CoverAllError(apiError)
	}
	switch outErr.Type {
	case gserr.Missing:
		code = http.StatusNotFound
	case gserr.User:
		code = http.StatusUnprocessableEntity
	case gserr.Server:
		code = http.StatusInternalServerError
	default:
		code = http.StatusInternalServerError
	}
	WriteError(w, r, code, outErr)
}
