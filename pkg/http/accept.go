package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks, out of the content types the server
// supports (most preferred first), the one the request's Accept
// header rates highest. Quality ties go to the server's ordering. A
// request with no Accept header gets the first supported type; one
// whose Accept header matches nothing supported gets "".
func negotiateContentType(r *http.Request, supported []string) string {
	accepted := header.ParseAccept(r.Header, "Accept")
	if len(accepted) == 0 {
		return supported[0]
	}

	var candidates []header.AcceptSpec
	for _, spec := range accepted {
		if rank(supported, spec.Value) < len(supported) {
			candidates = append(candidates, spec)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Q != candidates[j].Q {
			return candidates[i].Q > candidates[j].Q
		}
		return rank(supported, candidates[i].Value) < rank(supported, candidates[j].Value)
	})
	return candidates[0].Value
}

// rank is the position of s in ss, or len(ss) when absent, so it can
// be compared directly while sorting (-1 for "absent" would sort
// misses before hits).
func rank(ss []string, s string) int {
	for i, have := range ss {
		if have == s {
			return i
		}
	}
	return len(ss)
}
