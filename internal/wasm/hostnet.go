package wasm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// hostModuleName is the host module every component links against for
// network access. Guests that never call it run fully offline.
const hostModuleName = "wassette_host"

type contextKey struct{ name string }

var callContextKey = &contextKey{name: "wasm_call_context"}

// callContext carries the per-call, per-component state host functions need
// — which host the guest may reach — without threading it through every
// wazero function signature.
type callContext struct {
	componentID    string
	networkAllowed func(host string) bool
	// callBudget is the advisory CPU-limit counter shared across every host
	// call this guest invocation makes; nil means unlimited (see Instance).
	callBudget *int64
}

func withCallContext(ctx context.Context, cc callContext) context.Context {
	return context.WithValue(ctx, callContextKey, cc)
}

func callContextFrom(ctx context.Context) (callContext, bool) {
	cc, ok := ctx.Value(callContextKey).(callContext)
	return cc, ok
}

// RegisterHostModule instantiates wassette_host once per Runtime engine. The
// actual allow/deny decision is resolved per call from the callContext
// stashed in ctx by Instance.callPacked, so one host module instance serves
// every component the engine ever compiles.
func RegisterHostModule(ctx context.Context, engine wazero.Runtime) error {
	builder := engine.NewHostModuleBuilder(hostModuleName)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostHTTPRequest), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
		Export("http_request")

	_, err := builder.Instantiate(ctx)
	return err
}

// httpRequestWire is the JSON payload a guest writes to ask the host to
// perform an HTTP request on its behalf.
type httpRequestWire struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    string              `json:"body,omitempty"` // base64
}

type httpResponseWire struct {
	StatusCode    int                 `json:"statusCode,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          string              `json:"body,omitempty"` // base64
	BodyTruncated bool                `json:"bodyTruncated,omitempty"`
	Error         string              `json:"error,omitempty"`
}

const maxHTTPResponseBody = 10 * 1024 * 1024

// hostHTTPRequest is the wassette_host.http_request implementation: it reads
// a packed httpRequestWire from guest memory, checks the call's network
// policy, performs the request with a DNS-pinned transport to defeat
// rebinding, and writes back a packed httpResponseWire.
func hostHTTPRequest(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, size := unpackPtrLen(stack[0])
	raw, ok := mod.Memory().Read(ptr, size)
	if !ok {
		stack[0] = writeHostResponse(ctx, mod, httpResponseWire{Error: "failed to read request from guest memory"})
		return
	}

	var req httpRequestWire
	if err := json.Unmarshal(raw, &req); err != nil {
		stack[0] = writeHostResponse(ctx, mod, httpResponseWire{Error: fmt.Sprintf("unmarshal request: %v", err)})
		return
	}

	cc, _ := callContextFrom(ctx)
	resp, err := doHTTPRequest(ctx, cc, req)
	if err != nil {
		stack[0] = writeHostResponse(ctx, mod, httpResponseWire{Error: err.Error()})
		return
	}
	stack[0] = writeHostResponse(ctx, mod, *resp)
}

func doHTTPRequest(ctx context.Context, cc callContext, req httpRequestWire) (*httpResponseWire, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	allowed := cc.networkAllowed
	if allowed == nil {
		allowed = func(string) bool { return false }
	}
	if !allowed(parsed.Hostname()) {
		return nil, fmt.Errorf("network access to %s denied by policy", parsed.Hostname())
	}
	if cc.callBudget != nil && atomic.AddInt64(cc.callBudget, -1) < 0 {
		return nil, fmt.Errorf("advisory CPU budget exhausted for component %s", cc.componentID)
	}

	var body io.Reader
	if req.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("decode request body: %w", err)
		}
		body = bytes.NewReader(decoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", fmt.Sprintf("wassette/component-%s", cc.componentID))

	client := &http.Client{
		Transport: &dnsPinningTransport{base: &http.Transport{
			ForceAttemptHTTP2:     true,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}},
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			if !allowed(r.URL.Hostname()) {
				return fmt.Errorf("redirect to %s denied by policy", r.URL.Hostname())
			}
			return nil
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxHTTPResponseBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	truncated := false
	if len(data) > maxHTTPResponseBody {
		data = data[:maxHTTPResponseBody]
		truncated = true
	}

	headers := make(map[string][]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = v
	}

	return &httpResponseWire{
		StatusCode:    resp.StatusCode,
		Headers:       headers,
		Body:          base64.StdEncoding.EncodeToString(data),
		BodyTruncated: truncated,
	}, nil
}

// dnsPinningTransport resolves the target hostname once per request and
// dials the resolved IP directly, so a DNS answer that changes mid-flight
// (a rebinding attack) can't redirect an already-authorized connection
// to a different host.
type dnsPinningTransport struct {
	base *http.Transport
}

func (t *dnsPinningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		if req.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	ips, err := net.DefaultResolver.LookupIPAddr(req.Context(), host)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	pinnedIP := ips[0].IP.String()

	transport := t.base.Clone()
	transport.DialContext = func(dialCtx context.Context, network, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		return dialer.DialContext(dialCtx, network, net.JoinHostPort(pinnedIP, port))
	}
	if req.URL.Scheme == "https" {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		transport.TLSClientConfig.ServerName = host
	}

	return transport.RoundTrip(req)
}

// writeHostResponse marshals resp to JSON, allocates guest memory for it via
// the calling module's allocate() export, and returns the packed pointer the
// guest should use to read it back.
func writeHostResponse(ctx context.Context, mod api.Module, resp httpResponseWire) uint64 {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(httpResponseWire{Error: "failed to marshal host response"})
	}

	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		return 0
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0
	}
	return packPtrLen(ptr, uint32(len(data)))
}
