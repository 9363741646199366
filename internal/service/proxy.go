// Package service implements the proxy pipeline: decode the target, validate
// it, fetch it and rewrite the body so the page keeps working through the proxy.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"rewrite-proxy-go/internal/addressing"
	"rewrite-proxy-go/internal/config"
	"rewrite-proxy-go/internal/headers"
	"rewrite-proxy-go/internal/metrics"
	"rewrite-proxy-go/internal/model"
	"rewrite-proxy-go/internal/rewrite"
	"rewrite-proxy-go/internal/target"
)

// ErrUpstreamFetch is returned when the target cannot be fetched or its body
// cannot be read.
var ErrUpstreamFetch = errors.New("upstream fetch failed")

// Stage names a step of the pipeline. It is attached to log lines.
type Stage string

const (
	StageReceived      Stage = "received"
	StageDecoded       Stage = "decoded"
	StageValidated     Stage = "validated"
	StageFetching      Stage = "fetching"
	StageRewritingBody Stage = "rewriting_body"
	StageResponding    Stage = "responding"
)

// Fetcher issues the upstream request. *client.UpstreamClient implements it.
type Fetcher interface {
	Fetch(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*model.ProxyResponse, error)
}

// ProxyService runs one proxied request through the pipeline. It keeps no
// per-request state and is safe for concurrent use.
type ProxyService struct {
	fetcher    Fetcher
	classifier *target.Classifier
	policy     headers.Policy
	rewriter   *rewrite.Rewriter
	maxBody    int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(
	f Fetcher,
	classifier *target.Classifier,
	policy headers.Policy,
	rw *rewrite.Rewriter,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ProxyService {
	return &ProxyService{
		fetcher:    f,
		classifier: classifier,
		policy:     policy,
		rewriter:   rw,
		maxBody:    cfg.Upstream.MaxBodyBytes,
		logger:     logger.With("component", "proxy_service"),
		metrics:    m,
	}
}

// Forward proxies pr to the target addressed under scheme and returns the
// response to send downstream. The caller is responsible for closing the
// response body.
//
// Errors wrap target.ErrInvalidURL, target.ErrBlocked or ErrUpstreamFetch.
// Rewrite failures never surface: the original body is served instead.
func (s *ProxyService) Forward(pr *model.ProxyRequest, scheme addressing.Scheme) (*model.ProxyResponse, error) {
	candidate := scheme.Decode(pr.URL)

	u, err := s.classifier.Validate(candidate)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, target.ErrBlocked) {
			reason = "blocked"
		}
		s.reject(reason)
		s.logger.Warn(reason+" target",
			"stage", StageDecoded,
			"scheme", scheme.Name(),
			"error", err,
		)
		return nil, err
	}

	method, body := s.upstreamMethod(pr, scheme)
	header := s.policy.Upstream(pr.Header, u)

	s.logger.Debug("forwarding request",
		"stage", StageValidated,
		"scheme", scheme.Name(),
		"method", method,
		"host", u.Host,
	)

	resp, err := s.fetcher.Fetch(pr.Ctx, method, u.String(), header, body)
	if err != nil {
		if errors.Is(err, target.ErrBlocked) {
			s.reject("blocked")
			s.logger.Warn("blocked redirect", "stage", StageFetching, "host", u.Host, "error", err)
			return nil, err
		}
		s.reject("upstream")
		s.logger.Error("upstream fetch failed", "stage", StageFetching, "host", u.Host, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}

	out := &model.ProxyResponse{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Header:        s.policy.FilterResponse(resp.Header),
		Body:          resp.Body,
		URL:           resp.URL,
		ContentLength: resp.ContentLength,
		Decoded:       resp.Decoded,
	}

	// A coding the client could not undo must travel with the bytes.
	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		out.Header.Set("Content-Encoding", enc)
		return out, nil
	}

	// Bodiless responses keep the upstream's Content-Length.
	if method == http.MethodHead || !bodyAllowed(resp.StatusCode) {
		return out, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if rewrite.KindOf(contentType) == rewrite.KindNone {
		return out, nil
	}

	base := u
	if resp.URL != nil {
		base = resp.URL
	}
	rc := rewrite.Context{Target: base, ProxyOrigin: pr.ProxyOrigin, Scheme: scheme}
	if err := s.rewriteBody(out, contentType, rc); err != nil {
		s.reject("upstream")
		s.logger.Error("reading upstream body failed", "stage", StageRewritingBody, "host", u.Host, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}
	return out, nil
}

// upstreamMethod returns the method and body to send upstream. Schemes that
// do not forward bodies are read-only and always issue GET.
func (s *ProxyService) upstreamMethod(pr *model.ProxyRequest, scheme addressing.Scheme) (string, io.Reader) {
	if !scheme.ForwardsBody() {
		return http.MethodGet, nil
	}
	method := pr.Method
	if method == "" {
		method = http.MethodGet
	}
	if method == http.MethodGet || method == http.MethodHead || pr.Body == nil {
		return method, nil
	}
	return method, pr.Body
}

// rewriteBody buffers out.Body up to maxBody bytes and rewrites it. Larger
// bodies are streamed through untouched. Only read errors are returned.
func (s *ProxyService) rewriteBody(out *model.ProxyResponse, contentType string, rc rewrite.Context) error {
	raw := out.Body
	buf, err := io.ReadAll(io.LimitReader(raw, s.maxBody+1))
	if err != nil {
		_ = raw.Close()
		return err
	}

	if int64(len(buf)) > s.maxBody {
		s.logger.Debug("body exceeds rewrite limit; streaming unmodified",
			"stage", StageRewritingBody,
			"limit", s.maxBody,
		)
		out.Body = &prefixedBody{Reader: io.MultiReader(bytes.NewReader(buf), raw), closer: raw}
		return nil
	}
	_ = raw.Close()

	res, err := s.rewriter.Rewrite(buf, contentType, rc)
	if err != nil {
		s.logger.Warn("rewrite failed; serving original body",
			"stage", StageRewritingBody,
			"content_type", contentType,
			"error", err,
		)
	}
	if res.ContentType != "" {
		out.Header.Set("Content-Type", res.ContentType)
	}

	out.Body = io.NopCloser(bytes.NewReader(res.Body))
	out.ContentLength = int64(len(res.Body))
	out.Header.Set("Content-Length", strconv.Itoa(len(res.Body)))
	return nil
}

// bodyAllowed reports whether a response with the given status may carry a body.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func (s *ProxyService) reject(reason string) {
	if s.metrics != nil {
		s.metrics.RejectionsTotal.WithLabelValues(reason).Inc()
	}
}

// prefixedBody replays already-buffered bytes ahead of the rest of the stream.
type prefixedBody struct {
	io.Reader
	closer io.Closer
}

func (p *prefixedBody) Close() error { return p.closer.Close() }
