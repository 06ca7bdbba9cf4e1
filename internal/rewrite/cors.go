package rewrite

import (
	"streamgate-proxy-go/internal/model"
)

const (
	allowMethods  = "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS"
	exposeHeaders = "Content-Length, Content-Range, Content-Type, Location, Accept-Ranges"
)

// corsStage unconditionally opens the response up for cross-origin use.
// Whatever CORS policy the origin shipped is overwritten: the proxied
// page lives on the proxy's origin, so the origin's policy no longer
// applies.
type corsStage struct{}

func (*corsStage) Name() string { return "cors" }

func (*corsStage) Apply(rc *model.RewriteContext) error {
	h := rc.Header
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Expose-Headers", exposeHeaders)
	h.Set("Accept-Ranges", "bytes")
	return nil
}
