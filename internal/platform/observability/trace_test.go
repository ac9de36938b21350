package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/bookings/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		ok      bool
		span    string
		sampled bool
	}{
		{name: "hex span sampled", header: "4bf92f3577b34da6a3ce929d0e0e4736/00f067aa0ba902b7;o=1", ok: true, span: "00f067aa0ba902b7", sampled: true},
		{name: "decimal span", header: "4bf92f3577b34da6a3ce929d0e0e4736/18446744073709551615;o=0", ok: true, span: "ffffffffffffffff"},
		{name: "short hex span without options", header: "4bf92f3577b34da6a3ce929d0e0e4736/abc", ok: true, span: "0000000000000abc"},
		{name: "missing span", header: "4bf92f3577b34da6a3ce929d0e0e4736", ok: false},
		{name: "short trace", header: "4bf92f35/1;o=1", ok: false},
		{name: "zero span", header: "4bf92f3577b34da6a3ce929d0e0e4736/0;o=1", ok: false},
		{name: "empty", header: "", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseCloudTrace(tc.header)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if !ok {
				return
			}
			if got.spanID.String() != tc.span || got.sampled != tc.sampled {
				t.Fatalf("unexpected parse result span=%s sampled=%v", got.spanID, got.sampled)
			}
			if !got.spanContext().IsRemote() {
				t.Fatalf("incoming span context must be remote")
			}
		})
	}
}

func TestTraceMiddlewareContinuesCloudTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var info requestctx.TraceInfo
	handler := TraceMiddleware("demo-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
	req.Header.Set(cloudTraceHeader, traceID+"/1;o=1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if info.TraceID != traceID || info.ProjectID != "demo-project" {
		t.Fatalf("unexpected trace info %+v", info)
	}
	echoed := rr.Header().Get(cloudTraceHeader)
	if !strings.HasPrefix(echoed, traceID+"/") {
		t.Fatalf("expected cloud trace header to be echoed, got %q", echoed)
	}
	if rr.Header().Get("traceparent") == "" {
		t.Fatalf("expected traceparent on response")
	}
}
