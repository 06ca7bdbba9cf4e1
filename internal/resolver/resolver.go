// Package resolver extracts and normalizes target URLs embedded in
// proxied request paths.
package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"streamgate-proxy-go/internal/config"
)

// ErrInvalidTargetURL is returned when the inbound path does not contain a
// parseable absolute http/https URL after the proxy prefix.
var ErrInvalidTargetURL = errors.New("invalid target URL")

// Resolver turns the path-and-query remainder after the proxy prefix into
// a normalized absolute target URL.
type Resolver struct {
	prefix    string
	keepPorts bool
	logger    *slog.Logger
}

// New creates a Resolver bound to the configured proxy prefix.
func New(cfg *config.Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		prefix: cfg.Proxy.Prefix,
		logger: logger.With("component", "resolver"),
	}
}

// NewKeepPorts creates a Resolver that preserves explicit ports in target
// URLs. This is intended only for tests that use httptest origins on
// ephemeral ports.
func NewKeepPorts(cfg *config.Config, logger *slog.Logger) *Resolver {
	r := New(cfg, logger)
	r.keepPorts = true
	return r
}

// Prefix returns the proxy path prefix, including the trailing slash.
func (r *Resolver) Prefix() string {
	return r.prefix
}

// Resolve parses the target URL embedded in requestURI (the raw inbound
// path plus query) and normalizes it. Explicit ports are stripped so the
// scheme's default port applies; a warning is logged when that happens.
// Resolving an already-normalized URL is a no-op.
func (r *Resolver) Resolve(requestURI string) (*url.URL, error) {
	if !strings.HasPrefix(requestURI, r.prefix) {
		return nil, fmt.Errorf("%w: path %q is outside the proxy prefix", ErrInvalidTargetURL, requestURI)
	}

	raw := strings.TrimPrefix(requestURI, r.prefix)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTargetURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not http or https", ErrInvalidTargetURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidTargetURL, raw)
	}

	// Explicit ports are normalized away: origin servers are assumed to
	// run on default ports, and a malformed or hostile port in the
	// embedded URL must not redirect the dial elsewhere.
	if u.Port() != "" && !r.keepPorts {
		r.logger.Warn("stripping explicit port from target URL",
			"host", u.Host,
			"port", u.Port(),
		)
		u.Host = u.Hostname()
	}

	return u, nil
}
