package rewrite

import (
	"fmt"
	"net/url"
	"strings"

	"streamgate-proxy-go/internal/model"
)

// redirectStage rewrites Location headers so redirects keep the client
// inside the proxy namespace. Both absolute and relative redirect targets
// are supported; relative ones are resolved against the original request
// URL first. Rewriting is idempotent: a Location already under the prefix
// is left alone.
type redirectStage struct {
	prefix string
}

func (*redirectStage) Name() string { return "redirect" }

func (s *redirectStage) Apply(rc *model.RewriteContext) error {
	loc, _, ok := getFold(rc.Header, "Location")
	if !ok || loc == "" {
		return nil
	}
	if strings.HasPrefix(loc, s.prefix) {
		return nil
	}

	ref, err := url.Parse(loc)
	if err != nil {
		return fmt.Errorf("parse Location %q: %w", loc, err)
	}

	abs := ref
	if !ref.IsAbs() {
		if rc.RequestURL == nil {
			return fmt.Errorf("relative Location %q with no request URL to resolve against", loc)
		}
		abs = rc.RequestURL.ResolveReference(ref)
	}

	// Write under the canonical key only; any stray lower-case duplicate
	// is dropped so the response carries exactly one Location.
	delFold(rc.Header, "Location")
	rc.Header.Set("Location", s.prefix+abs.String())
	return nil
}
