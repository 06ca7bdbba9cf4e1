package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"streamgate-proxy-go/internal/client"
	"streamgate-proxy-go/internal/metrics"
	"streamgate-proxy-go/internal/model"
	"streamgate-proxy-go/internal/resolver"
	"streamgate-proxy-go/internal/rewrite"
)

// hopByHopHeaders are connection-scoped headers that must not be copied
// onto the origin request. Upgrade and Connection are handled separately
// by the tunnel path.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ProxyHandler serves the proxy path namespace: it resolves the embedded
// target URL, forwards the request through the scheme pools, runs the
// response through the rewrite pipeline and streams it back. Upgrade
// requests branch off into a raw tunnel instead.
type ProxyHandler struct {
	resolver *resolver.Resolver
	client   *client.UpstreamClient
	pipeline *rewrite.Pipeline
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is
// optional; pass nil to disable tunnel metrics.
func NewProxyHandler(res *resolver.Resolver, cl *client.UpstreamClient, pl *rewrite.Pipeline, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		resolver: res,
		client:   cl,
		pipeline: pl,
		logger:   logger.With("component", "proxy_handler"),
		metrics:  m,
	}
}

// Handle proxies one request to the origin embedded in its path.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	target, err := h.resolver.Resolve(req.RequestURI)
	if err != nil {
		return h.mapError(c, err)
	}

	if isUpgrade(req.Header) {
		return h.tunnel(c, target)
	}

	pr := &model.ProxyRequest{
		Ctx:       req.Context(),
		Method:    req.Method,
		TargetURL: target,
		Header:    forwardHeader(req.Header),
		Body:      req.Body,
	}

	resp, err := h.client.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rc := model.NewRewriteContext(resp)
	h.pipeline.Apply(rc)

	// Copy headers via direct map assignment so the casing chosen by the
	// rewrite stages (e.g. a recomputed lower-case content-length) survives.
	out := c.Response().Header()
	for k, vals := range rc.Header {
		out[k] = vals
	}

	c.Response().WriteHeader(rc.StatusCode)

	// Stream the origin body directly to the client. If io.Copy fails
	// mid-stream (client disconnect, network error), the status line has
	// already been sent, so the client receives a truncated response.
	// This is an inherent trade-off of streaming proxies; log and move on.
	if _, err := io.Copy(c.Response(), rc.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"target", target.String(),
		)
	}

	return nil
}

// forwardHeader copies client headers for the origin request, dropping
// hop-by-hop headers and Accept-Encoding. Leaving Accept-Encoding out
// lets the transport negotiate gzip and decompress transparently, so the
// manifest stage always sees plain text.
func forwardHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, vals := range src {
		dst[http.CanonicalHeaderKey(k)] = vals
	}
	for _, k := range hopByHopHeaders {
		dst.Del(k)
	}
	dst.Del("Accept-Encoding")
	dst.Del("Host")
	return dst
}

// isUpgrade reports whether the request asks for a protocol upgrade.
func isUpgrade(h http.Header) bool {
	if h.Get("Upgrade") == "" {
		return false
	}
	for _, v := range h.Values("Connection") {
		for tok := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return true
			}
		}
	}
	return false
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, resolver.ErrInvalidTargetURL) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid target URL: the proxy path must embed an absolute http or https URL",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "origin request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "origin request failed",
	})
}
