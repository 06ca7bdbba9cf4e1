// Package client provides the pooled HTTP client used for the origin hop.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"streamgate-proxy-go/internal/config"
	"streamgate-proxy-go/internal/metrics"
	"streamgate-proxy-go/internal/model"
)

const dialTimeout = 30 * time.Second

// UpstreamClient sends requests to origin servers. It owns two connection
// pools keyed by scheme: a plain pool for http targets and a TLS pool for
// https targets. Both pools keep idle connections alive for reuse and cap
// concurrent connections per host; requests beyond the cap queue inside
// the transport.
type UpstreamClient struct {
	plain    *http.Client
	secure   *http.Client
	plainTr  *http.Transport
	secureTr *http.Transport
	insecure bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with per-scheme pooling.
// The metrics parameter is optional; pass nil to disable origin metrics.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	newTransport := func(tlsCfg *tls.Config) *http.Transport {
		return &http.Transport{
			MaxConnsPerHost:     cfg.Upstream.PoolSize,
			MaxIdleConns:        cfg.Upstream.PoolSize,
			MaxIdleConnsPerHost: cfg.Upstream.PoolSize,
			IdleConnTimeout:     90 * time.Second,
			DialContext:         dialer.DialContext,
			TLSClientConfig:     tlsCfg,
		}
	}

	insecure := !cfg.Upstream.VerifyTLS
	plainTr := newTransport(nil)
	secureTr := newTransport(&tls.Config{InsecureSkipVerify: insecure}) //nolint:gosec // documented leniency, see config.UpstreamConfig.VerifyTLS

	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second

	return &UpstreamClient{
		plain:    &http.Client{Transport: plainTr, Timeout: timeout, CheckRedirect: noFollow},
		secure:   &http.Client{Transport: secureTr, Timeout: timeout, CheckRedirect: noFollow},
		plainTr:  plainTr,
		secureTr: secureTr,
		insecure: insecure,
		logger:   logger.With("component", "upstream_client"),
		metrics:  m,
	}
}

// noFollow stops the client from chasing redirects: Location headers must
// reach the rewrite pipeline untouched so the client is sent back through
// the proxy namespace.
func noFollow(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}

// Do executes an HTTP request against the origin and returns the raw
// response. The pool is selected by the request URL's scheme. The caller
// is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("origin request",
		"method", req.Method,
		"host", req.URL.Host,
		"scheme", req.URL.Scheme,
	)

	hc := c.plain
	if req.URL.Scheme == "https" {
		hc = c.secure
	}

	start := time.Now()
	resp, err := hc.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method, req.URL.Scheme).Observe(duration)
		}
		return nil, fmt.Errorf("origin request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method, req.URL.Scheme).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, req.URL.Scheme, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		RequestURL: req.URL,
	}, nil
}

// Forward executes a ProxyRequest and returns the origin response as a
// stream. The request context controls the lifetime of the origin call:
// when it is canceled (e.g. client disconnect), the origin request is
// aborted and the pooled connection freed. The caller is responsible for
// closing the returned body.
func (c *UpstreamClient) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, pr.TargetURL.String(), pr.Body)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	if pr.Header != nil {
		req.Header = pr.Header
	}

	return c.Do(req)
}

// DialUpgrade opens a raw connection to the target for an upgrade tunnel,
// performing the TLS handshake for https targets with the same certificate
// validation policy as the TLS pool. The returned connection is owned by
// the caller.
func (c *UpstreamClient) DialUpgrade(ctx context.Context, target *url.URL) (net.Conn, error) {
	addr := target.Host
	if target.Port() == "" {
		if target.Scheme == "https" {
			addr = net.JoinHostPort(target.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(target.Hostname(), "80")
		}
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial origin %s: %w", addr, err)
	}

	if target.Scheme != "https" {
		return raw, nil
	}

	tc := tls.Client(raw, &tls.Config{
		ServerName:         target.Hostname(),
		InsecureSkipVerify: c.insecure, //nolint:gosec // same policy as the TLS pool
	})
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("origin TLS handshake %s: %w", addr, err)
	}
	return tc, nil
}

// CloseIdle releases idle pooled connections in both scheme pools. Called
// at shutdown after in-flight requests have drained.
func (c *UpstreamClient) CloseIdle() {
	c.plainTr.CloseIdleConnections()
	c.secureTr.CloseIdleConnections()
}
