package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"

	"github.com/labstack/echo/v4"

	"rewrite-proxy-go/internal/addressing"
	"rewrite-proxy-go/internal/model"
	"rewrite-proxy-go/internal/service"
	"rewrite-proxy-go/internal/target"
)

// userinfoPattern matches credentials embedded in URLs quoted by error messages.
var userinfoPattern = regexp.MustCompile(`(://)[^/@\s"]+@`)

// Forwarder runs a proxied request. *service.ProxyService implements it.
type Forwarder interface {
	Forward(pr *model.ProxyRequest, scheme addressing.Scheme) (*model.ProxyResponse, error)
}

// ProxyHandler serves both proxy entry points.
type ProxyHandler struct {
	service Forwarder
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Path serves /proxy/<encoded target>.
func (h *ProxyHandler) Path(c echo.Context) error {
	return h.handle(c, addressing.PathSegment{})
}

// Query serves /?url=<encoded target>.
func (h *ProxyHandler) Query(c echo.Context) error {
	return h.handle(c, addressing.QueryParam{})
}

// handle proxies the request and streams the response back.
func (h *ProxyHandler) handle(c echo.Context, scheme addressing.Scheme) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:         req.Context(),
		Method:      req.Method,
		URL:         req.URL,
		Header:      req.Header,
		Body:        req.Body,
		ProxyOrigin: c.Scheme() + "://" + req.Host,
	}

	resp, err := h.service.Forward(pr, scheme)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Copy filtered response headers
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	if resp.ContentLength >= 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
	}

	// net/http writes the standard reason phrase; a custom upstream one is lost.
	c.Response().WriteHeader(resp.StatusCode)

	// Once the status is sent a copy failure can only truncate the body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"scheme", scheme.Name(),
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	msg := sanitizeError(err)

	switch {
	case errors.Is(err, target.ErrInvalidURL):
		return c.String(http.StatusBadRequest, "Invalid URL: "+msg)
	case errors.Is(err, target.ErrBlocked):
		return c.String(http.StatusForbidden, "Access to internal network addresses is not allowed")
	}

	h.logger.Error("proxy error", "err", msg)

	if !errors.Is(err, service.ErrUpstreamFetch) {
		return c.String(http.StatusInternalServerError, "Internal error: "+msg)
	}

	hint := "The target may be unreachable."
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		hint = "The target did not respond in time."
	case errors.Is(err, context.Canceled):
		hint = "The request was canceled."
	case errors.As(err, &dnsErr):
		hint = "The target host could not be resolved."
	}
	return c.String(http.StatusInternalServerError, "Failed to fetch target: "+msg+". "+hint)
}

// sanitizeError redacts URL credentials from error messages.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
