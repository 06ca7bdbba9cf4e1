package rewrite

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"streamgate-proxy-go/internal/model"
)

// manifestStage rewrites HLS playlists so every segment and variant URI
// routes back through the proxy. It is the only stage that buffers the
// response body; all other content streams through untouched.
//
// A manifest is line-oriented: lines starting with '#' are directives and
// pass through byte-identical, every other non-empty line is a URI
// reference. Absolute references get the proxy prefix prepended directly;
// relative ones are resolved against the playlist's own URL first.
type manifestStage struct {
	prefix string
	logger *slog.Logger
}

func (*manifestStage) Name() string { return "manifest" }

func (s *manifestStage) Apply(rc *model.RewriteContext) error {
	ct, _, _ := getFold(rc.Header, "Content-Type")
	if !strings.Contains(strings.ToLower(ct), "mpegurl") {
		return nil
	}
	if rc.Body == nil {
		return nil
	}

	data, err := io.ReadAll(rc.Body)
	_ = rc.Body.Close()
	if err != nil {
		// Hand the partial read back so the client still gets something.
		rc.Body = io.NopCloser(bytes.NewReader(data))
		return fmt.Errorf("read manifest body: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines[i] = s.rewriteLine(trimmed, rc.RequestURL)
	}

	out := []byte(strings.Join(lines, "\n"))
	rc.Body = io.NopCloser(bytes.NewReader(out))

	// Recompute the length under whatever casing the origin used.
	if _, key, ok := getFold(rc.Header, "Content-Length"); ok {
		rc.Header[key] = []string{strconv.Itoa(len(out))}
	}
	return nil
}

// rewriteLine maps one URI reference into the proxy namespace. Lines that
// fail to parse or resolve pass through unchanged; one broken reference
// must not take the rest of the playlist down with it.
func (s *manifestStage) rewriteLine(line string, base *url.URL) string {
	if strings.HasPrefix(line, s.prefix) {
		return line
	}

	ref, err := url.Parse(line)
	if err != nil {
		s.logger.Warn("skipping unparseable manifest line", "line", line, "err", err)
		return line
	}

	if ref.IsAbs() {
		return s.prefix + line
	}
	if base == nil {
		s.logger.Warn("relative manifest line with no playlist URL to resolve against", "line", line)
		return line
	}
	return s.prefix + base.ResolveReference(ref).String()
}
