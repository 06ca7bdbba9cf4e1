package rewrite

import (
	"streamgate-proxy-go/internal/model"
)

// strippedHeaders are origin security policies that would break the
// proxied context: they pin the policy to the origin's own host, or block
// framing/embedding of the proxied page outright.
var strippedHeaders = []string{
	"X-Frame-Options",
	"Content-Security-Policy",
	"Strict-Transport-Security",
	"Public-Key-Pins",
}

// stripStage removes origin security headers unconditionally. It runs
// last so the headers are gone regardless of what earlier stages set.
type stripStage struct{}

func (*stripStage) Name() string { return "strip" }

func (*stripStage) Apply(rc *model.RewriteContext) error {
	for _, name := range strippedHeaders {
		delFold(rc.Header, name)
	}
	return nil
}
