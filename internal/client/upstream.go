// Package client provides the upstream HTTP client used to fetch target URLs.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"rewrite-proxy-go/internal/config"
	"rewrite-proxy-go/internal/metrics"
	"rewrite-proxy-go/internal/model"
)

// AcceptEncoding lists the content codings the client can decode.
const AcceptEncoding = "gzip, deflate, br, zstd"

// RedirectGuard vets each redirect hop before it is followed.
type RedirectGuard interface {
	Validate(candidate string) (*url.URL, error)
}

// UpstreamClient fetches target URLs on behalf of proxied requests.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling, timeouts
// and a redirect cap. Each redirect hop is checked by guard so that a public
// target cannot bounce the proxy into a blocked network; pass nil to skip it.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, guard RedirectGuard) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // Accept-Encoding is negotiated and decoded by Do
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxRedirects := cfg.Upstream.MaxRedirects
	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return http.ErrUseLastResponse
				}
				if guard != nil {
					if _, err := guard.Validate(req.URL.String()); err != nil {
						return fmt.Errorf("redirect to %s: %w", req.URL.Redacted(), err)
					}
				}
				return nil
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the target and returns the response with
// its content coding removed. The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	req.Header.Set("Accept-Encoding", AcceptEncoding)

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		var uerr *url.Error
		if errors.As(err, &uerr) {
			// url.Error repeats the full target URL; the caller already has it.
			err = uerr.Err
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	out := &model.ProxyResponse{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Header:        resp.Header,
		Body:          resp.Body,
		URL:           resp.Request.URL,
		ContentLength: resp.ContentLength,
	}

	if err := decodeBody(out); err != nil {
		c.logger.Warn("cannot decode upstream body; passing it through encoded",
			"encoding", resp.Header.Get("Content-Encoding"),
			"error", err,
		)
	}
	return out, nil
}

// Fetch builds and executes a request for rawURL. The provided context controls
// the lifetime of the upstream request: when the context is canceled (e.g. the
// client disconnects), the upstream request is also canceled.
// The caller is responsible for closing the returned body.
func (c *UpstreamClient) Fetch(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	return c.Do(req)
}
