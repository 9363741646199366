// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents an inbound request addressed to a target through
// one of the addressing schemes.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	URL    *url.URL // inbound request URL; the target is decoded from it
	Header http.Header
	Body   io.ReadCloser

	// ProxyOrigin is scheme://host[:port] of this proxy as seen by the client.
	ProxyOrigin string
}

// ProxyResponse represents the upstream response to be returned downstream.
type ProxyResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser

	// URL is the target that produced this response, after redirects.
	URL *url.URL

	// ContentLength is the body length in bytes, or -1 when unknown.
	ContentLength int64

	// Decoded reports whether a Content-Encoding was removed from Body.
	Decoded bool
}
