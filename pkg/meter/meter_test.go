package meter

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"proxybroker/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEndpoint(provider, host, session string) models.Endpoint {
	return models.Endpoint{
		Scheme:   "http",
		Host:     host,
		Port:     8080,
		Provider: provider,
		Session:  session,
	}
}

func TestRecordAcquireCreatesEntry(t *testing.T) {
	m := New(testLogger(), nil)
	ep := testEndpoint("p1", "10.0.0.1", "s1")

	m.RecordAcquire(ep, "scraping")

	all := m.GetMetrics("")
	em, ok := all[ep.Key()]
	if !ok {
		t.Fatalf("no entry for key %q after RecordAcquire", ep.Key())
	}
	if !em.Active {
		t.Error("entry not marked active after acquire")
	}
	if em.Purpose != "scraping" {
		t.Errorf("Purpose = %q, want scraping", em.Purpose)
	}
	if em.FirstSeen.IsZero() || em.LastSeen.IsZero() {
		t.Error("timestamps not stamped on first acquire")
	}
}

func TestCostEstimate(t *testing.T) {
	m := New(testLogger(), nil)
	m.RegisterProviderPrice("p1", 2.0)
	ep := testEndpoint("p1", "10.0.0.1", "s1")

	// half a GB each direction, priced at $2/GB
	m.RecordRequest(ep, 1<<29, 1<<29, true)

	em := m.GetMetrics("")[ep.Key()]
	if math.Abs(em.CostEstimate-2.0) > 1e-9 {
		t.Errorf("CostEstimate = %v, want 2.0", em.CostEstimate)
	}
	if em.TotalBytes() != 1<<30 {
		t.Errorf("TotalBytes() = %d, want %d", em.TotalBytes(), 1<<30)
	}
	if math.Abs(em.TotalGB()-1.0) > 1e-9 {
		t.Errorf("TotalGB() = %v, want 1.0", em.TotalGB())
	}
}

func TestCostUsesOwningProviderPrice(t *testing.T) {
	m := New(testLogger(), nil)
	m.RegisterProviderPrice("cheap", 1.0)
	m.RegisterProviderPrice("pricey", 10.0)

	cheap := testEndpoint("cheap", "10.0.0.1", "")
	pricey := testEndpoint("pricey", "10.0.0.2", "")

	m.RecordRequest(cheap, 1<<29, 1<<29, true)
	m.RecordRequest(pricey, 1<<29, 1<<29, true)

	s := m.Summary()
	if math.Abs(s.TotalCostEstimate-11.0) > 1e-9 {
		t.Errorf("TotalCostEstimate = %v, want 11.0 (1GB at $1 + 1GB at $10)", s.TotalCostEstimate)
	}
	if math.Abs(s.ByProvider["cheap"].CostEstimate-1.0) > 1e-9 {
		t.Errorf("cheap cost = %v, want 1.0", s.ByProvider["cheap"].CostEstimate)
	}
	if math.Abs(s.ByProvider["pricey"].CostEstimate-10.0) > 1e-9 {
		t.Errorf("pricey cost = %v, want 10.0", s.ByProvider["pricey"].CostEstimate)
	}
}

func TestRequestCounts(t *testing.T) {
	m := New(testLogger(), nil)
	ep := testEndpoint("p1", "10.0.0.1", "s1")

	m.RecordRequest(ep, 100, 200, true)
	m.RecordRequest(ep, 100, 200, true)
	m.RecordRequest(ep, 100, 200, false)

	em := m.GetMetrics("")[ep.Key()]
	if em.RequestsCount != 3 || em.SuccessCount != 2 || em.FailureCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", em.RequestsCount, em.SuccessCount, em.FailureCount)
	}
	if em.BytesSent != 300 || em.BytesReceived != 600 {
		t.Errorf("bytes = %d/%d, want 300/600", em.BytesSent, em.BytesReceived)
	}
	if math.Abs(em.SuccessRate()-100.0*2/3) > 1e-9 {
		t.Errorf("SuccessRate() = %v, want %v", em.SuccessRate(), 100.0*2/3)
	}
}

func TestReleaseRetainsEntry(t *testing.T) {
	m := New(testLogger(), nil)
	ep := testEndpoint("p1", "10.0.0.1", "s1")

	m.RecordAcquire(ep, "")
	m.RecordRequest(ep, 10, 20, true)
	m.RecordRelease(ep, "done")

	em, ok := m.GetMetrics("")[ep.Key()]
	if !ok {
		t.Fatal("entry dropped on release; history must be retained")
	}
	if em.Active {
		t.Error("entry still active after release")
	}
	if em.ReleaseReason != "done" {
		t.Errorf("ReleaseReason = %q, want done", em.ReleaseReason)
	}
	if em.RequestsCount != 1 {
		t.Errorf("RequestsCount = %d, want 1 (history retained)", em.RequestsCount)
	}
}

func TestReleaseUnknownEndpoint(t *testing.T) {
	m := New(testLogger(), nil)
	// must not panic or create an entry
	m.RecordRelease(testEndpoint("p1", "10.0.0.1", "ghost"), "")
	if n := len(m.GetMetrics("")); n != 0 {
		t.Errorf("entries = %d after releasing unknown endpoint, want 0", n)
	}
}

func TestGetMetricsFiltersByProvider(t *testing.T) {
	m := New(testLogger(), nil)
	m.RecordAcquire(testEndpoint("p1", "10.0.0.1", ""), "")
	m.RecordAcquire(testEndpoint("p2", "10.0.0.2", ""), "")
	m.RecordAcquire(testEndpoint("p1", "10.0.0.3", ""), "")

	if n := len(m.GetMetrics("p1")); n != 2 {
		t.Errorf("GetMetrics(p1) returned %d entries, want 2", n)
	}
	if n := len(m.GetMetrics("")); n != 3 {
		t.Errorf("GetMetrics(\"\") returned %d entries, want 3", n)
	}
}

func TestSummaryAggregation(t *testing.T) {
	m := New(testLogger(), nil)
	m.RegisterProviderPrice("p1", 1.0)

	a := testEndpoint("p1", "10.0.0.1", "s1")
	b := testEndpoint("p1", "10.0.0.2", "s2")
	m.RecordRequest(a, 100, 100, true)
	m.RecordRequest(b, 50, 50, false)

	s := m.Summary()
	if s.TotalEndpoints != 2 {
		t.Errorf("TotalEndpoints = %d, want 2", s.TotalEndpoints)
	}
	if s.TotalRequests != 2 || s.TotalFailures != 1 {
		t.Errorf("requests/failures = %d/%d, want 2/1", s.TotalRequests, s.TotalFailures)
	}
	if s.TotalBytes != 300 {
		t.Errorf("TotalBytes = %d, want 300", s.TotalBytes)
	}
	if math.Abs(s.OverallSuccessRate-50.0) > 1e-9 {
		t.Errorf("OverallSuccessRate = %v, want 50", s.OverallSuccessRate)
	}
	p := s.ByProvider["p1"]
	if p.Endpoints != 2 || p.Requests != 2 || p.Bytes != 300 || p.Failures != 1 {
		t.Errorf("ByProvider[p1] = %+v, want 2 endpoints, 2 requests, 300 bytes, 1 failure", p)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New(testLogger(), nil)
	m.RegisterProviderPrice("p1", 1.0)
	ep := testEndpoint("p1", "10.0.0.1", "s1")

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m.RecordRequest(ep, 10, 10, true)
			}
		}()
	}
	wg.Wait()

	em := m.GetMetrics("")[ep.Key()]
	if em.RequestsCount != workers*perWorker {
		t.Errorf("RequestsCount = %d, want %d", em.RequestsCount, workers*perWorker)
	}
	if em.BytesSent != workers*perWorker*10 {
		t.Errorf("BytesSent = %d, want %d", em.BytesSent, workers*perWorker*10)
	}
}
