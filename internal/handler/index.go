package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"streamgate-proxy-go/internal/config"
)

// indexPage is the static UI served at the root path. It holds no server
// state: the script normalizes a missing scheme to https:// and navigates
// the browser into the proxy namespace.
const indexPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>streamgate</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 4em auto; }
input { width: 70%; padding: .5em; }
button { padding: .5em 1em; }
</style>
</head>
<body>
<h1>streamgate</h1>
<form id="go">
<input id="url" placeholder="https://example.com" autofocus>
<button type="submit">Browse</button>
</form>
<script>
document.getElementById("go").addEventListener("submit", function (e) {
	e.preventDefault();
	var url = document.getElementById("url").value.trim();
	if (!url) return;
	if (!/^https?:\/\//i.test(url)) url = "https://" + url;
	window.location.href = "{{prefix}}" + url;
});
</script>
</body>
</html>
`

// IndexHandler serves the landing page.
type IndexHandler struct {
	page string
}

// NewIndexHandler renders the landing page for the configured prefix.
func NewIndexHandler(cfg *config.Config) *IndexHandler {
	return &IndexHandler{
		page: strings.ReplaceAll(indexPage, "{{prefix}}", cfg.Proxy.Prefix),
	}
}

// Page serves the static UI.
func (h *IndexHandler) Page(c echo.Context) error {
	return c.HTML(http.StatusOK, h.page)
}
