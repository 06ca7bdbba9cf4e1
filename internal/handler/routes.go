package handler

import (
	"strings"

	"github.com/labstack/echo/v4"

	"streamgate-proxy-go/internal/config"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Everything under the proxy prefix is proxied traffic; the rest is the
// UI page and operational endpoints.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, index *IndexHandler) {
	e.GET("/", index.Page)
	e.GET("/healthz", health.Healthz)
	e.GET("/statusz", health.Status)

	prefix := strings.TrimSuffix(cfg.Proxy.Prefix, "/")
	e.Any(prefix+"/*", proxy.Handle)
}
