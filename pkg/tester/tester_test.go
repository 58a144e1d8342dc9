package tester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"proxybroker/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// proxyEndpoint turns an httptest server into an HTTP proxy endpoint. The
// server receives the absolute-URI requests a proxying client sends and can
// answer them like a forward proxy would.
func proxyEndpoint(t *testing.T, srv *httptest.Server) models.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return models.Endpoint{
		Scheme:   "http",
		Host:     host,
		Port:     port,
		Provider: "test",
	}
}

func TestTestSingleSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"origin": "203.0.113.7"}`)
	}))
	defer srv.Close()

	tr := New(testLogger(), nil)
	result := tr.TestSingle(context.Background(), proxyEndpoint(t, srv), "http://target.invalid/ip", 5*time.Second)

	if !result.Success {
		t.Fatalf("TestSingle() Success = false, error = %s (%s)", result.Error, result.ErrorKind)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if result.ResponseIP != "203.0.113.7" {
		t.Errorf("ResponseIP = %q, want 203.0.113.7", result.ResponseIP)
	}
	if result.ResponseTimeMs <= 0 {
		t.Errorf("ResponseTimeMs = %v, want > 0", result.ResponseTimeMs)
	}
	if result.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestTestSingleAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusProxyAuthRequired)
	}))
	defer srv.Close()

	tr := New(testLogger(), nil)
	result := tr.TestSingle(context.Background(), proxyEndpoint(t, srv), "http://target.invalid/ip", 5*time.Second)

	if result.Success {
		t.Fatal("TestSingle() Success = true, want auth failure")
	}
	if result.ErrorKind != ErrorAuth {
		t.Errorf("ErrorKind = %v, want %v", result.ErrorKind, ErrorAuth)
	}
	if result.StatusCode != http.StatusProxyAuthRequired {
		t.Errorf("StatusCode = %d, want 407", result.StatusCode)
	}
}

func TestTestSingleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	tr := New(testLogger(), nil)
	result := tr.TestSingle(context.Background(), proxyEndpoint(t, srv), "http://target.invalid/ip", 100*time.Millisecond)

	if result.Success {
		t.Fatal("TestSingle() Success = true, want timeout")
	}
	if result.ErrorKind != ErrorTimeout {
		t.Errorf("ErrorKind = %v (%s), want %v", result.ErrorKind, result.Error, ErrorTimeout)
	}
}

func TestTestSingleConnectionRefused(t *testing.T) {
	// grab a port that nothing listens on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	ep := models.Endpoint{Scheme: "http", Host: host, Port: port, Provider: "test"}

	tr := New(testLogger(), nil)
	result := tr.TestSingle(context.Background(), ep, "http://target.invalid/ip", 2*time.Second)

	if result.Success {
		t.Fatal("TestSingle() Success = true, want connection failure")
	}
	if result.ErrorKind != ErrorConnection {
		t.Errorf("ErrorKind = %v (%s), want %v", result.ErrorKind, result.Error, ErrorConnection)
	}
}

func TestTestSingleHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := New(testLogger(), nil)
	result := tr.TestSingle(context.Background(), proxyEndpoint(t, srv), "http://target.invalid/ip", 5*time.Second)

	if result.Success {
		t.Fatal("TestSingle() Success = true, want failure on 502")
	}
	if result.ErrorKind != ErrorUnknown {
		t.Errorf("ErrorKind = %v, want %v", result.ErrorKind, ErrorUnknown)
	}
	if result.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", result.StatusCode)
	}
}

func TestTestBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// stagger responses so completion order differs from input order
		time.Sleep(10 * time.Millisecond)
		fmt.Fprint(w, `{"origin": "203.0.113.7"}`)
	}))
	defer srv.Close()

	base := proxyEndpoint(t, srv)
	endpoints := make([]models.Endpoint, 10)
	for i := range endpoints {
		ep := base
		ep.Session = fmt.Sprintf("s%d", i)
		endpoints[i] = ep
	}

	var progressCalls int
	tr := New(testLogger(), nil)
	results := tr.TestBatch(context.Background(), endpoints, "http://target.invalid/ip",
		5*time.Second, 5, func(completed, total int) {
			progressCalls++
			if total != len(endpoints) {
				t.Errorf("progress total = %d, want %d", total, len(endpoints))
			}
		})

	if len(results) != len(endpoints) {
		t.Fatalf("TestBatch() returned %d results, want %d", len(results), len(endpoints))
	}
	for i, r := range results {
		if r.Endpoint.Session != endpoints[i].Session {
			t.Errorf("results[%d].Endpoint.Session = %q, want %q (input order)", i, r.Endpoint.Session, endpoints[i].Session)
		}
		if !r.Success {
			t.Errorf("results[%d] failed: %s", i, r.Error)
		}
	}
	if progressCalls != len(endpoints) {
		t.Errorf("progress fired %d times, want %d", progressCalls, len(endpoints))
	}
}

func TestTestBatchNilProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "203.0.113.7")
	}))
	defer srv.Close()

	tr := New(testLogger(), nil)
	results := tr.TestBatch(context.Background(), []models.Endpoint{proxyEndpoint(t, srv)},
		"http://target.invalid/ip", 5*time.Second, 0, nil)
	if len(results) != 1 || !results[0].Success {
		t.Errorf("TestBatch() = %+v, want one successful result", results)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "Deadline exceeded", err: context.DeadlineExceeded, want: ErrorTimeout},
		{name: "Wrapped deadline", err: fmt.Errorf("HTTP request failed: %w", context.DeadlineExceeded), want: ErrorTimeout},
		{name: "Op error", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: ErrorConnection},
		{name: "Auth by message", err: errors.New("407 Proxy Authentication Required"), want: ErrorAuth},
		{name: "Refused by message", err: errors.New("dial tcp: connection refused"), want: ErrorConnection},
		{name: "Unknown", err: errors.New("something odd"), want: ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractEgressIP(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "Httpbin origin", body: `{"origin": "203.0.113.7"}`, want: "203.0.113.7"},
		{name: "Ip field", body: `{"ip": "198.51.100.2"}`, want: "198.51.100.2"},
		{name: "Bare address", body: "192.0.2.9\n", want: "192.0.2.9"},
		{name: "Garbage", body: "<html>not an ip</html>", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractEgressIP([]byte(tt.body)); got != tt.want {
				t.Errorf("extractEgressIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
