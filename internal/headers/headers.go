// Package headers projects header sets through the proxy's allow-lists.
package headers

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultUserAgent is sent upstream in place of the client's own User-Agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultRequestAllow lists the request headers forwarded upstream.
var DefaultRequestAllow = []string{
	"accept",
	"accept-language",
	"cache-control",
	"content-type",
	"user-agent",
}

// DefaultResponseAllow lists the upstream response headers returned to the client.
// Content-Length is handled separately because rewriting changes it.
var DefaultResponseAllow = []string{
	"content-type",
	"cache-control",
	"expires",
	"last-modified",
	"etag",
}

// Policy is the header configuration record used in both directions.
type Policy struct {
	UserAgent     string
	RequestAllow  []string
	ResponseAllow []string
}

// DefaultPolicy returns the built-in allow-lists and User-Agent.
func DefaultPolicy() Policy {
	return Policy{
		UserAgent:     DefaultUserAgent,
		RequestAllow:  append([]string(nil), DefaultRequestAllow...),
		ResponseAllow: append([]string(nil), DefaultResponseAllow...),
	}
}

// FilterRequest copies only allow-listed request headers.
func (p Policy) FilterRequest(src http.Header) http.Header {
	return project(src, p.RequestAllow)
}

// FilterResponse copies only allow-listed response headers.
func (p Policy) FilterResponse(src http.Header) http.Header {
	return project(src, p.ResponseAllow)
}

// Upstream filters src and then sets Origin, Referer and User-Agent for the
// given target, overriding anything the client sent.
func (p Policy) Upstream(src http.Header, target *url.URL) http.Header {
	dst := p.FilterRequest(src)
	override(dst, "Origin", target.Scheme+"://"+target.Host)
	referer := *target
	referer.User = nil
	override(dst, "Referer", referer.String())
	if p.UserAgent != "" {
		override(dst, "User-Agent", p.UserAgent)
	}
	return dst
}

// override replaces every case variant of key in h with a single value.
func override(h http.Header, key, value string) {
	for k := range h {
		if strings.EqualFold(k, key) {
			delete(h, k)
		}
	}
	h.Set(key, value)
}

// project keeps the headers of src whose lowercase name is in allow. Keys
// are copied as they appear in src.
func project(src http.Header, allow []string) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if !contains(allow, key) {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
