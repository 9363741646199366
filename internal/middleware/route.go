package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"rewrite-proxy-go/internal/addressing"
	"rewrite-proxy-go/internal/metrics"
)

// route is the log- and label-safe view of an inbound request. The target
// URL itself is never part of it; at most its host is.
type route struct {
	prefix     string // bounded path label, see metrics.NormalizePath
	scheme     string // addressing scheme name, or "none"
	targetHost string // host[:port] of the decoded target without userinfo
}

func classify(req *http.Request) route {
	r := route{prefix: metrics.NormalizePath(req.URL.Path), scheme: "none"}

	var s addressing.Scheme
	switch {
	case strings.HasPrefix(req.URL.Path, addressing.PathPrefix):
		s = addressing.PathSegment{}
	case req.URL.Path == "/" && req.URL.Query().Has("url"):
		s = addressing.QueryParam{}
	default:
		return r
	}
	r.scheme = s.Name()

	if u, err := url.Parse(s.Decode(req.URL)); err == nil && u.Host != "" {
		r.targetHost = u.Host
	}
	return r
}
