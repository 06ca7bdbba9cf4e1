// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request to be forwarded to an origin
// server. TargetURL is the absolute, port-normalized URL of the resource.
type ProxyRequest struct {
	Ctx       context.Context
	Method    string
	TargetURL *url.URL
	Header    http.Header
	Body      io.ReadCloser
}

// ProxyResponse represents the origin response to be streamed back.
// RequestURL carries the originating request's target URL so the rewrite
// pipeline can resolve relative references against it.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	RequestURL *url.URL
}

// RewriteContext is the per-response state threaded through the rewrite
// pipeline. Stages mutate it in place; it is discarded once the response
// has been flushed to the client.
type RewriteContext struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	RequestURL *url.URL
}

// NewRewriteContext builds a RewriteContext from an origin response.
func NewRewriteContext(resp *ProxyResponse) *RewriteContext {
	return &RewriteContext{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		RequestURL: resp.RequestURL,
	}
}
