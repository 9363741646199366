// Package rewrite rewrites fetched HTML and CSS so that the references they
// contain point back at the proxy.
package rewrite

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"rewrite-proxy-go/internal/metrics"
)

var (
	// ErrBodyDecode is returned when a body cannot be handled as UTF-8 text.
	// The accompanying Result still carries the original bytes.
	ErrBodyDecode = errors.New("body is not decodable text")
	// ErrReference marks a single reference that could not be resolved.
	ErrReference = errors.New("unresolvable reference")
)

// Kind is the content class a body is rewritten as.
type Kind string

const (
	KindNone Kind = ""
	KindHTML Kind = "html"
	KindCSS  Kind = "css"
)

// KindOf classifies a Content-Type value by prefix.
func KindOf(contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "text/html"):
		return KindHTML
	case strings.HasPrefix(ct, "text/css"):
		return KindCSS
	}
	return KindNone
}

// Result is the outcome of Rewrite.
type Result struct {
	Body        []byte
	ContentType string
	Rewritten   bool
}

// Rewriter rewrites response bodies. It holds no per-request state.
type Rewriter struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRewriter creates a Rewriter. The metrics parameter is optional.
func NewRewriter(logger *slog.Logger, m *metrics.Metrics) *Rewriter {
	return &Rewriter{
		logger:  logger.With("component", "rewriter"),
		metrics: m,
	}
}

// Rewrite dispatches on contentType. Bodies that are neither HTML nor CSS are
// returned untouched. On error the Result holds the original body and
// content type, so callers can always serve it.
func (r *Rewriter) Rewrite(body []byte, contentType string, rc Context) (Result, error) {
	original := Result{Body: body, ContentType: contentType}

	kind := KindOf(contentType)
	if kind == KindNone {
		return original, nil
	}

	text, transcoded, err := toUTF8(body, contentType)
	if err != nil {
		r.observe(kind, "fallback")
		return original, err
	}

	var out []byte
	switch kind {
	case KindHTML:
		out, err = r.rewriteHTML(text, rc)
	case KindCSS:
		out = r.rewriteCSS(text, rc)
	}
	if err != nil {
		r.observe(kind, "fallback")
		return original, fmt.Errorf("%w: %v", ErrBodyDecode, err)
	}

	res := Result{Body: out, ContentType: contentType, Rewritten: true}
	if transcoded {
		res.ContentType = withUTF8Charset(contentType)
	}
	r.observe(kind, "rewritten")
	return res, nil
}

func (r *Rewriter) observe(kind Kind, outcome string) {
	if r.metrics != nil {
		r.metrics.RewritesTotal.WithLabelValues(string(kind), outcome).Inc()
	}
}

// unresolved logs a reference left as-is.
func (r *Rewriter) unresolved(ref string, err error) {
	r.logger.Debug("reference left unchanged", "ref", ref, "err", err)
}

// toUTF8 returns body as UTF-8. Invalid UTF-8 is transcoded only when a
// non-UTF-8 charset is declared by BOM or Content-Type.
func toUTF8(body []byte, contentType string) ([]byte, bool, error) {
	if utf8.Valid(body) {
		return body, false, nil
	}
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain || name == "utf-8" {
		return nil, false, fmt.Errorf("%w: invalid UTF-8", ErrBodyDecode)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: decode %s: %v", ErrBodyDecode, name, err)
	}
	return out, true, nil
}

func withUTF8Charset(contentType string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	params["charset"] = "utf-8"
	return mime.FormatMediaType(mediaType, params)
}
