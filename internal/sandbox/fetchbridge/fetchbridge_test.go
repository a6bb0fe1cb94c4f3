package fetchbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RyanPotat/eval-server/internal/potatctx"
)

func TestFetchBlockedLiteral(t *testing.T) {
	b := New(5)
	status, body := b.Fetch(context.Background(), potatctx.Context{}, "http://127.0.0.1/", Options{})
	if status != 400 {
		t.Fatalf("status = %d, want 400", status)
	}
	s, ok := body.(string)
	if !ok || !strings.Contains(s, "BlockedAddress") {
		t.Fatalf("body = %v, want BlockedAddress message", body)
	}
}

// newTestBridge returns a Bridge whose client talks over the plain
// default transport instead of the SSRF-safe dialer, for exercising
// doRequest directly against a loopback httptest server — the Address
// Guard's loopback block is covered separately by TestFetchBlockedLiteral
// and internal/sandbox/guard's own tests.
func newTestBridge(maxConcurrency int) *Bridge {
	b := New(maxConcurrency)
	b.client = &http.Client{Transport: http.DefaultTransport, CheckRedirect: checkRedirect}
	return b
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-potat-data") == "" {
			t.Error("expected x-potat-data header to be set")
		}
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("unexpected User-Agent: %s", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	b := newTestBridge(5)
	status, body := b.doRequest(context.Background(), potatctx.Context{Platform: "PotatEval"}, srv.URL, Options{})
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	m, ok := body.(map[string]interface{})
	if !ok || m["ok"] != true {
		t.Fatalf("body = %v, want decoded JSON object", body)
	}
}

func TestFetchTooManyConcurrent(t *testing.T) {
	b := New(1)
	b.inflight = 1 // simulate one already-active call

	status, body := b.Fetch(context.Background(), potatctx.Context{}, "http://example.com", Options{})
	if status != 429 {
		t.Fatalf("status = %d, want 429", status)
	}
	if body != "Too many requests." {
		t.Fatalf("body = %v, want 'Too many requests.'", body)
	}
}

func TestFetchRawTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	b := newTestBridge(5)
	status, body := b.doRequest(context.Background(), potatctx.Context{}, srv.URL, Options{})
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if body != "not json" {
		t.Fatalf("body = %v, want raw text fallback", body)
	}
}
