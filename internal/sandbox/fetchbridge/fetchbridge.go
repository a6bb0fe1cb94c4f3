// Package fetchbridge implements the host-side fetch exposed to guest
// code: concurrency limiting, SSRF-safe DNS resolution, redirect
// re-validation, response capture, and the goja binding that surfaces it
// as global.fetch(url, options).
package fetchbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/time/rate"

	"github.com/RyanPotat/eval-server/internal/debug"
	"github.com/RyanPotat/eval-server/internal/metrics"
	"github.com/RyanPotat/eval-server/internal/potatctx"
	"github.com/RyanPotat/eval-server/internal/sandbox/guard"
)

const (
	userAgent        = "Sandbox Unsafe JavaScript Execution Environment - https://github.com/RyanPotat/eval-server/"
	perRequestBudget = 5 * time.Second
	maxRedirects     = 5
	maxResponseBytes = 5 << 20 // supplemental response-size bound, spec.md §1(d)
)

var unsafeHeaders = map[string]bool{
	"host":                true,
	"connection":          true,
	"content-length":      true,
	"transfer-encoding":   true,
	"proxy-authorization": true,
	"proxy-connection":    true,
}

// Options mirrors the guest's fetch(url, options) second argument.
type Options struct {
	Method  string
	Headers map[string]string
	Body    string
}

// Bridge is the shared, process-wide fetch implementation. A single
// Bridge is reused across evaluations; concurrency is bounded per call
// via the atomic inflight counter, not per-Bridge state that needs reset
// between evaluations (the counter is already zero between serialized
// snippets, see internal/sandbox/queue).
type Bridge struct {
	client         *http.Client
	limiter        *rate.Limiter
	inflight       int32
	maxConcurrency int32
}

// New builds a Bridge enforcing maxConcurrency simultaneous outbound
// requests from a single snippet.
func New(maxConcurrency int) *Bridge {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Bridge{
		client:         &http.Client{Transport: newTransport(), CheckRedirect: checkRedirect},
		limiter:        rate.NewLimiter(rate.Limit(maxConcurrency*2), maxConcurrency*2),
		maxConcurrency: int32(maxConcurrency),
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: perRequestBudget}
	return &http.Transport{
		DialContext:            ssrfSafeDialContext(dialer),
		DisableCompression:     true,
		MaxIdleConns:           100,
		MaxIdleConnsPerHost:    10,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    perRequestBudget,
		ResponseHeaderTimeout:  perRequestBudget,
		ExpectContinueTimeout:  time.Second,
		MaxResponseHeaderBytes: 1 << 20,
	}
}

// ssrfSafeDialContext resolves addr itself (rather than letting the
// transport resolve it implicitly) so every candidate IP can be checked
// against the Address Guard before a connection is attempted. This
// covers both a literal IP host and every A/AAAA answer for a DNS name,
// including redirect hops, since the transport calls DialContext again
// for each new connection a redirect requires.
func ssrfSafeDialContext(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		if ip := net.ParseIP(host); ip != nil {
			if guard.ClassifyIP(ip) != guard.NotBlocked {
				return nil, &guard.BlockedAddress{Host: host}
			}
			return dialer.DialContext(ctx, network, addr)
		}

		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("no addresses found for %s", host)
		}
		for _, a := range addrs {
			if guard.ClassifyIP(a.IP) != guard.NotBlocked {
				return nil, &guard.BlockedAddress{Host: host}
			}
		}

		var lastErr error
		for _, a := range addrs {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(a.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return guard.GuardOrFail(req.URL.Hostname())
}

// Fetch performs one guest-initiated outbound request, returning a
// status code and a body value that is always JSON-safe to value-copy
// back across the isolate boundary. It never returns a Go error — every
// failure is mapped to a synthetic response per spec.md §4.2.
func (b *Bridge) Fetch(ctx context.Context, potat potatctx.Context, rawURL string, opts Options) (int, interface{}) {
	n := atomic.AddInt32(&b.inflight, 1)
	metrics.SetInflightFetches(int(n))
	defer func() {
		metrics.SetInflightFetches(int(atomic.AddInt32(&b.inflight, -1)))
	}()
	if n > b.maxConcurrency {
		metrics.RecordFetch("too_many")
		return 429, "Too many requests."
	}
	_ = b.limiter.Wait(ctx)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		metrics.RecordFetch("transport_error")
		return 400, fmt.Sprintf("Request failed - URLError: %s", err.Error())
	}
	if host := parsed.Hostname(); host != "" {
		if gerr := guard.GuardOrFail(host); gerr != nil {
			metrics.RecordFetch("blocked")
			return 400, fmt.Sprintf("Request failed - %s", gerr.Error())
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, perRequestBudget)
	defer cancel()

	return b.doRequest(reqCtx, potat, rawURL, opts)
}

// doRequest builds, issues, and decodes one outbound request. Split out
// of Fetch so the request/decode logic can be exercised directly against
// a test server without going through the Address Guard pre-check (which
// correctly blocks httptest's loopback listener).
func (b *Bridge) doRequest(reqCtx context.Context, potat potatctx.Context, rawURL string, opts Options) (int, interface{}) {
	var bodyReader io.Reader
	if opts.Body != "" {
		bodyReader = strings.NewReader(opts.Body)
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		metrics.RecordFetch("transport_error")
		return 400, fmt.Sprintf("Request failed - RequestError: %s", err.Error())
	}
	for k, v := range opts.Headers {
		if unsafeHeaders[strings.ToLower(k)] {
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", userAgent)
	if ctxJSON, err := json.Marshal(potat); err == nil {
		req.Header.Set("x-potat-data", string(ctxJSON))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		status, body := mapTransportError(reqCtx, err)
		var blocked *guard.BlockedAddress
		switch {
		case asBlockedAddress(err, &blocked):
			metrics.RecordFetch("blocked")
		case status == 408:
			metrics.RecordFetch("timeout")
		default:
			metrics.RecordFetch("transport_error")
		}
		return status, body
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.RecordFetch("transport_error")
		return 400, fmt.Sprintf("Request failed - ReadError: %s", err.Error())
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	metrics.RecordFetch("ok")
	return resp.StatusCode, decoded
}

func mapTransportError(reqCtx context.Context, err error) (int, interface{}) {
	var blocked *guard.BlockedAddress
	if asBlockedAddress(err, &blocked) {
		return 400, fmt.Sprintf("Request failed - BlockedAddress: %s", blocked.Host)
	}
	if reqCtx.Err() != nil {
		return 408, "Request timed out."
	}
	return 400, fmt.Sprintf("Request failed - %s: %s", errKind(err), err.Error())
}

func asBlockedAddress(err error, target **guard.BlockedAddress) bool {
	for err != nil {
		if b, ok := err.(*guard.BlockedAddress); ok {
			*target = b
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func errKind(err error) string {
	switch err.(type) {
	case *net.DNSError:
		return "DNSError"
	case *net.OpError:
		return "NetworkError"
	case *url.Error:
		return "URLError"
	default:
		return "TransportError"
	}
}

// Bind registers global.fetch(url, options) on vm, closing over the
// per-evaluation context (so the 5000 ms evaluation timeout severs any
// in-flight fetch the same way it severs the guest script) and the
// PotatContext derived for this evaluation.
func Bind(vm *goja.Runtime, ctx context.Context, bridge *Bridge, potat potatctx.Context, evalID string) {
	vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("fetch requires a url argument"))
		}
		rawURL := call.Argument(0).String()
		opts := parseOptions(call.Argument(1))

		start := time.Now()
		status, body := bridge.Fetch(ctx, potat, rawURL, opts)
		debug.Fetch(evalID, hostOf(rawURL), status, time.Since(start))
		return toThenable(vm, status, body)
	})
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parsed.Hostname()
}

func parseOptions(v goja.Value) Options {
	var opts Options
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return opts
	}
	obj, ok := v.Export().(map[string]interface{})
	if !ok {
		return opts
	}
	if m, ok := obj["method"].(string); ok {
		opts.Method = strings.ToUpper(m)
	}
	if b, ok := obj["body"].(string); ok {
		opts.Body = b
	}
	if h, ok := obj["headers"].(map[string]interface{}); ok {
		opts.Headers = make(map[string]string, len(h))
		for k, val := range h {
			if s, ok := val.(string); ok {
				opts.Headers[k] = s
			}
		}
	}
	return opts
}

// toThenable builds the value-copied {body, status} response object
// required by spec.md §4.2, with a synchronous .then() so guest code can
// write `fetch(url).then(r => r.status)`. goja runs queued promise jobs
// only once the script returns to the host, and there is no external
// event loop (see internal/sandbox/isolate), so .then() simply
// invokes its callback immediately with the already-resolved value
// rather than scheduling a microtask.
func toThenable(vm *goja.Runtime, status int, body interface{}) *goja.Object {
	obj := vm.NewObject()
	obj.Set("status", status)
	obj.Set("body", body)
	obj.Set("then", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return obj
		}
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return obj
		}
		v, err := fn(goja.Undefined(), obj)
		if err != nil {
			panic(err)
		}
		return v
	})
	return obj
}
