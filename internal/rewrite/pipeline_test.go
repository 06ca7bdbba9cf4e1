package rewrite

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"streamgate-proxy-go/internal/config"
	"streamgate-proxy-go/internal/model"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	cfg := &config.Config{}
	cfg.Proxy.Prefix = "/proxy/"
	return NewPipeline(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func newContext(t *testing.T, requestURL string, header http.Header, body string) *model.RewriteContext {
	t.Helper()
	var u *url.URL
	if requestURL != "" {
		var err error
		u, err = url.Parse(requestURL)
		if err != nil {
			t.Fatalf("parse request URL: %v", err)
		}
	}
	if header == nil {
		header = make(http.Header)
	}
	var rc io.ReadCloser
	if body != "" {
		rc = io.NopCloser(strings.NewReader(body))
	}
	return &model.RewriteContext{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       rc,
		RequestURL: u,
	}
}

func readBody(t *testing.T, rc *model.RewriteContext) string {
	t.Helper()
	if rc.Body == nil {
		return ""
	}
	data, err := io.ReadAll(rc.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func TestPipeline_CORSAlwaysSet(t *testing.T) {
	p := newTestPipeline(t)

	// Upstream values for the CORS keys must be overwritten.
	h := http.Header{
		"Access-Control-Allow-Origin": {"https://example.com"},
	}
	rc := newContext(t, "https://example.com/", h, "")
	p.Apply(rc)

	tests := []struct {
		key  string
		want string
	}{
		{"Access-Control-Allow-Origin", "*"},
		{"Access-Control-Allow-Methods", allowMethods},
		{"Access-Control-Allow-Headers", "*"},
		{"Access-Control-Expose-Headers", exposeHeaders},
		{"Accept-Ranges", "bytes"},
	}
	for _, tt := range tests {
		if got := rc.Header.Get(tt.key); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestPipeline_RedirectRewrite(t *testing.T) {
	tests := []struct {
		name       string
		requestURL string
		location   string
		want       string
	}{
		{
			name:       "relative redirect",
			requestURL: "https://example.com/app",
			location:   "/login",
			want:       "/proxy/https://example.com/login",
		},
		{
			name:       "absolute redirect",
			requestURL: "https://example.com/app",
			location:   "https://other.example.net/landing",
			want:       "/proxy/https://other.example.net/landing",
		},
		{
			name:       "already prefixed is untouched",
			requestURL: "https://example.com/app",
			location:   "/proxy/https://example.com/login",
			want:       "/proxy/https://example.com/login",
		},
		{
			name:       "relative with dot segments",
			requestURL: "https://example.com/a/b/c",
			location:   "../d",
			want:       "/proxy/https://example.com/a/d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t)
			h := http.Header{"Location": {tt.location}}
			rc := newContext(t, tt.requestURL, h, "")
			p.Apply(rc)

			if got := rc.Header.Get("Location"); got != tt.want {
				t.Errorf("Location = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPipeline_RedirectDropsLowerCaseDuplicate(t *testing.T) {
	p := newTestPipeline(t)
	h := http.Header{}
	h["location"] = []string{"/login"} // raw non-canonical artifact
	rc := newContext(t, "https://example.com/app", h, "")
	p.Apply(rc)

	if _, ok := rc.Header["location"]; ok {
		t.Error("raw lower-case location key survived the rewrite")
	}
	if got := rc.Header.Get("Location"); got != "/proxy/https://example.com/login" {
		t.Errorf("Location = %q, want %q", got, "/proxy/https://example.com/login")
	}
}

func TestPipeline_RedirectMalformedFailsSoft(t *testing.T) {
	p := newTestPipeline(t)
	bad := "http://exa mple.com/%zz"
	h := http.Header{"Location": {bad}}
	rc := newContext(t, "https://example.com/app", h, "")
	p.Apply(rc)

	if got := rc.Header.Get("Location"); got != bad {
		t.Errorf("malformed Location was modified: got %q, want %q", got, bad)
	}
}

func TestPipeline_ManifestScenario(t *testing.T) {
	p := newTestPipeline(t)
	h := http.Header{"Content-Type": {"application/vnd.apple.mpegurl"}}
	body := "#EXTM3U\nsegment1.ts\nhttps://cdn.example.com/seg2.ts\n"
	rc := newContext(t, "https://example.com/video/stream.m3u8", h, body)
	p.Apply(rc)

	want := "#EXTM3U\n/proxy/https://example.com/video/segment1.ts\n/proxy/https://cdn.example.com/seg2.ts\n"
	if got := readBody(t, rc); got != want {
		t.Errorf("manifest body = %q, want %q", got, want)
	}
}

func TestPipeline_ManifestDirectivesUntouched(t *testing.T) {
	p := newTestPipeline(t)
	h := http.Header{"Content-Type": {"audio/mpegurl"}}
	body := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n\nlow/index.m3u8"
	rc := newContext(t, "https://example.com/master.m3u8", h, body)
	p.Apply(rc)

	got := readBody(t, rc)
	lines := strings.Split(got, "\n")
	if lines[0] != "#EXTM3U" || lines[1] != "#EXT-X-VERSION:3" || lines[2] != "#EXT-X-TARGETDURATION:6" {
		t.Errorf("directive lines were modified: %q", got)
	}
	if lines[3] != "" {
		t.Errorf("blank line was modified: %q", lines[3])
	}
	if want := "/proxy/https://example.com/low/index.m3u8"; lines[4] != want {
		t.Errorf("URI line = %q, want %q", lines[4], want)
	}
}

func TestPipeline_ManifestContentLengthRecomputed(t *testing.T) {
	p := newTestPipeline(t)
	body := "#EXTM3U\nsegment1.ts\n"
	h := http.Header{"Content-Type": {"application/x-mpegURL"}}
	h["content-length"] = []string{"20"} // same-cased key must be preserved
	rc := newContext(t, "https://example.com/v/s.m3u8", h, body)
	p.Apply(rc)

	got := readBody(t, rc)
	vals, ok := rc.Header["content-length"]
	if !ok {
		t.Fatalf("content-length key casing not preserved; header = %v", rc.Header)
	}
	if want := strconv.Itoa(len(got)); vals[0] != want {
		t.Errorf("content-length = %q, want %s", vals[0], want)
	}
}

func TestPipeline_NonManifestBodyUntouched(t *testing.T) {
	p := newTestPipeline(t)
	h := http.Header{
		"Content-Type":   {"text/html"},
		"Content-Length": {"12"},
	}
	rc := newContext(t, "https://example.com/", h, "<html></html>")
	p.Apply(rc)

	if got := readBody(t, rc); got != "<html></html>" {
		t.Errorf("non-manifest body was modified: %q", got)
	}
	if got := rc.Header.Get("Content-Length"); got != "12" {
		t.Errorf("Content-Length = %q, want untouched %q", got, "12")
	}
}

func TestPipeline_SecurityHeadersStripped(t *testing.T) {
	p := newTestPipeline(t)
	h := http.Header{
		"X-Frame-Options":           {"DENY"},
		"Content-Security-Policy":   {"default-src 'self'"},
		"Strict-Transport-Security": {"max-age=63072000"},
		"Content-Type":              {"text/html"},
	}
	h["public-key-pins"] = []string{"pin-sha256=..."} // raw lower-case artifact
	rc := newContext(t, "https://example.com/", h, "")
	p.Apply(rc)

	for _, key := range []string{"X-Frame-Options", "Content-Security-Policy", "Strict-Transport-Security", "Public-Key-Pins"} {
		if got := rc.Header.Get(key); got != "" {
			t.Errorf("%s = %q, want stripped", key, got)
		}
	}
	if _, ok := rc.Header["public-key-pins"]; ok {
		t.Error("raw lower-case public-key-pins key survived the strip")
	}
	if got := rc.Header.Get("Content-Type"); got != "text/html" {
		t.Errorf("Content-Type = %q, want untouched", got)
	}
}

func TestDelFold(t *testing.T) {
	h := http.Header{}
	h["X-Frame-Options"] = []string{"DENY"}
	h["x-frame-options"] = []string{"SAMEORIGIN"}
	delFold(h, "X-Frame-Options")
	if len(h) != 0 {
		t.Errorf("delFold left keys behind: %v", h)
	}
}

func TestGetFold(t *testing.T) {
	h := http.Header{}
	h["content-length"] = []string{"42"}

	val, key, ok := getFold(h, "Content-Length")
	if !ok || val != "42" || key != "content-length" {
		t.Errorf("getFold() = %q, %q, %v; want 42, content-length, true", val, key, ok)
	}

	if _, _, ok := getFold(h, "Location"); ok {
		t.Error("getFold() found a missing header")
	}
}
