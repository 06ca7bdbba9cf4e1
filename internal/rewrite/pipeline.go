// Package rewrite implements the ordered response transform pipeline that
// keeps proxied clients inside the proxy's path namespace.
package rewrite

import (
	"log/slog"
	"net/http"
	"strings"

	"streamgate-proxy-go/internal/config"
	"streamgate-proxy-go/internal/metrics"
	"streamgate-proxy-go/internal/model"
)

// Stage is a single response transform. Apply mutates the context in
// place; a returned error means the stage gave up and left its fields
// unchanged. Stage errors are absorbed by the pipeline — availability
// takes precedence over cosmetic correctness of one header or line.
type Stage interface {
	Name() string
	Apply(rc *model.RewriteContext) error
}

// Pipeline runs its stages in fixed order over each response:
// CORS injection, then Location rewriting, then HLS manifest rewriting,
// then the security-header strip. The strip runs last so it removes the
// headers no matter what earlier stages touched.
type Pipeline struct {
	stages  []Stage
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPipeline builds the standard four-stage pipeline for the configured
// proxy prefix. The metrics parameter is optional; pass nil to disable
// rewrite-failure counting.
func NewPipeline(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	l := logger.With("component", "rewrite")
	return &Pipeline{
		stages: []Stage{
			&corsStage{},
			&redirectStage{prefix: cfg.Proxy.Prefix},
			&manifestStage{prefix: cfg.Proxy.Prefix, logger: l},
			&stripStage{},
		},
		logger:  l,
		metrics: m,
	}
}

// Apply runs every stage over the context. A failing stage is logged and
// skipped; it never aborts the response.
func (p *Pipeline) Apply(rc *model.RewriteContext) {
	for _, s := range p.stages {
		if err := s.Apply(rc); err != nil {
			p.logger.Warn("rewrite stage failed, leaving response unchanged",
				"stage", s.Name(),
				"err", err,
			)
			if p.metrics != nil {
				p.metrics.RewriteFailures.WithLabelValues(s.Name()).Inc()
			}
		}
	}
}

// delFold removes every header key matching name case-insensitively.
// http.Header.Del only removes the canonical key, which would leave a
// stray lower-case duplicate behind if one was planted in the map.
func delFold(h http.Header, name string) {
	for k := range h {
		if strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
}

// getFold returns the first value stored under any casing of name, and
// the exact key it was found under.
func getFold(h http.Header, name string) (value, key string, ok bool) {
	if vals, exists := h[http.CanonicalHeaderKey(name)]; exists && len(vals) > 0 {
		return vals[0], http.CanonicalHeaderKey(name), true
	}
	for k, vals := range h {
		if strings.EqualFold(k, name) && len(vals) > 0 {
			return vals[0], k, true
		}
	}
	return "", "", false
}
