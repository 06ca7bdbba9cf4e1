package metrics

import "testing"

func TestNew_RegistersCollectors(t *testing.T) {
	m := New()

	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}

	// Touching each collector must not panic; the registry would reject
	// duplicate registration at construction time.
	m.RequestsTotal.WithLabelValues("GET", "200", "/proxy").Inc()
	m.RequestDuration.WithLabelValues("GET", "200", "/proxy").Observe(0.1)
	m.RequestsInFlight.Inc()
	m.UpstreamDuration.WithLabelValues("GET", "https").Observe(0.1)
	m.UpstreamResponses.WithLabelValues("GET", "https", "200").Inc()
	m.RewriteFailures.WithLabelValues("redirect").Inc()
	m.TunnelsActive.Inc()
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"OPTIONS", "OPTIONS"},
		{"PROPFIND", "other"},
		{"get", "other"},
	}
	for _, tt := range tests {
		if got := NormalizeMethod(tt.method); got != tt.want {
			t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/proxy/https://example.com/a", "/proxy"},
		{"/healthz", "/healthz"},
		{"/statusz", "/statusz"},
		{"/metrics", "/metrics"},
		{"/favicon.ico", "other"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.path); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
