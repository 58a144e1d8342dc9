// Package tester exercises proxy endpoints against a live IP-echo URL,
// singly or in parallel batches. Network failures are never propagated as
// errors: every test yields a TestResult with a classified failure kind.
package tester

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"proxybroker/pkg/fetch"
	"proxybroker/pkg/metrics"
	"proxybroker/pkg/models"
)

// DefaultTestURL is an IP-echo endpoint suitable for verifying egress.
const DefaultTestURL = "http://httpbin.org/ip"

// ErrorKind classifies why a test failed.
type ErrorKind string

const (
	ErrorTimeout    ErrorKind = "timeout"
	ErrorAuth       ErrorKind = "auth"
	ErrorConnection ErrorKind = "connection"
	ErrorUnknown    ErrorKind = "unknown"
)

// TestResult is the outcome of testing a single endpoint.
type TestResult struct {
	Endpoint       models.Endpoint
	Success        bool
	ResponseTimeMs float64
	StatusCode     int
	// ResponseIP is the egress IP reported by the test URL on success.
	ResponseIP string
	ErrorKind  ErrorKind
	Error      string
	TestURL    string
	Timestamp  time.Time
}

// ProgressFunc is invoked after each completed test in a batch.
type ProgressFunc func(completed, total int)

type Tester struct {
	logger    *slog.Logger
	collector *metrics.Collector
}

// New creates a tester. The collector may be nil.
func New(logger *slog.Logger, collector *metrics.Collector) *Tester {
	return &Tester{logger: logger, collector: collector}
}

// TestSingle issues one request through the endpoint against testURL and
// measures latency. The timeout aborts the underlying call and is recorded
// as a classified failure; TestSingle never hangs and never returns an
// error.
func (t *Tester) TestSingle(ctx context.Context, ep models.Endpoint, testURL string, timeout time.Duration) TestResult {
	if testURL == "" {
		testURL = DefaultTestURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	result := TestResult{
		Endpoint:  ep,
		TestURL:   testURL,
		Timestamp: time.Now(),
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.Debug("testing endpoint", "host", ep.Host, "port", ep.Port, "url", testURL)

	start := time.Now()
	res, err := fetch.Fetch(reqCtx, testURL, ep, fetch.Options{
		TimeoutSec: int(timeout / time.Second),
		Headers:    []string{"User-Agent: proxybroker-tester/1.0"},
	})
	elapsed := time.Since(start)
	result.ResponseTimeMs = float64(elapsed.Microseconds()) / 1000

	if err != nil {
		result.ErrorKind = classifyError(err)
		result.Error = err.Error()
		t.logger.Warn("endpoint test failed",
			"host", ep.Host,
			"port", ep.Port,
			"kind", result.ErrorKind,
			"error", err)
		t.collector.RecordTest(false, elapsed.Seconds())
		return result
	}

	result.StatusCode = res.Response.StatusCode
	switch {
	case res.Response.StatusCode == http.StatusProxyAuthRequired:
		result.ErrorKind = ErrorAuth
		result.Error = "proxy authentication required"
	case res.Response.StatusCode == http.StatusOK:
		result.Success = true
		result.ResponseIP = extractEgressIP(res.Body)
	default:
		result.ErrorKind = ErrorUnknown
		result.Error = "HTTP " + res.Response.Status
	}

	if result.Success {
		t.logger.Info("endpoint test passed",
			"host", ep.Host,
			"port", ep.Port,
			"latency_ms", result.ResponseTimeMs,
			"egress_ip", result.ResponseIP)
	} else {
		t.logger.Warn("endpoint test failed",
			"host", ep.Host,
			"port", ep.Port,
			"kind", result.ErrorKind,
			"status", res.Response.StatusCode)
	}

	t.collector.RecordTest(result.Success, elapsed.Seconds())
	return result
}

// TestBatch dispatches tests over a bounded worker pool. Results are
// returned in input order regardless of completion order; progress (if
// non-nil) fires after every completion.
func (t *Tester) TestBatch(ctx context.Context, endpoints []models.Endpoint, testURL string, timeout time.Duration, maxWorkers int, progress ProgressFunc) []TestResult {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if maxWorkers > len(endpoints) {
		maxWorkers = len(endpoints)
	}

	t.logger.Info("starting batch test", "endpoints", len(endpoints), "workers", maxWorkers)

	results := make([]TestResult, len(endpoints))
	jobs := make(chan int, len(endpoints))

	var completed int
	var progressMu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = t.TestSingle(ctx, endpoints[i], testURL, timeout)
				if progress != nil {
					progressMu.Lock()
					completed++
					progress(completed, len(endpoints))
					progressMu.Unlock()
				}
			}
		}()
	}

	for i := range endpoints {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	t.logger.Info("batch test complete",
		"total", len(endpoints),
		"successful", successful,
		"failed", len(endpoints)-successful)

	return results
}

// classifyError maps transport errors onto the failure taxonomy. Timeouts
// are checked before connection errors because a timed-out dial satisfies
// both.
func classifyError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorConnection
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "Client.Timeout"):
		return ErrorTimeout
	case strings.Contains(msg, "407"), strings.Contains(msg, "Proxy Authentication Required"):
		return ErrorAuth
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "EOF"):
		return ErrorConnection
	default:
		return ErrorUnknown
	}
}

// extractEgressIP parses the echoed IP from common IP-echo response shapes:
// httpbin-style {"origin": ...}, {"ip": ...}, or a bare address body.
func extractEgressIP(body []byte) string {
	var payload struct {
		Origin string `json:"origin"`
		IP     string `json:"ip"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Origin != "" {
			return payload.Origin
		}
		if payload.IP != "" {
			return payload.IP
		}
	}
	if ip := strings.TrimSpace(string(body)); net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}
