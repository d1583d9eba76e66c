package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newCollector(t *testing.T) (*ControllerCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewControllerCollector(reg)
	if err != nil {
		t.Fatalf("NewControllerCollector: %v", err)
	}
	return c, reg
}

func TestObserveTickAndProbe(t *testing.T) {
	c, reg := newCollector(t)

	c.ObserveTick("data", 2*time.Millisecond)
	c.ObserveTick("data", time.Millisecond)
	c.ObserveTick("stale", time.Millisecond)
	c.ObserveProbe("high_per")

	if got := testutil.ToFloat64(c.Ticks.WithLabelValues("data")); got != 2 {
		t.Fatalf("ticks{data} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Ticks.WithLabelValues("stale")); got != 1 {
		t.Fatalf("ticks{stale} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Probes.WithLabelValues("high_per")); got != 1 {
		t.Fatalf("probes{high_per} = %v, want 1", got)
	}
	if n := histogramSampleCount(t, reg, "beam_controller_tick_duration_seconds", nil); n != 3 {
		t.Fatalf("tick duration samples = %d, want 3", n)
	}
}

func TestObserveUpdateSnapshotClampPID(t *testing.T) {
	c, reg := newCollector(t)

	c.ObserveUpdate(0.9)
	c.ObserveSnapshot(nil)
	c.ObserveSnapshot(errors.New("disk full"))
	c.ObserveClamp("context")
	c.ObservePID(12.5, 120)

	if got := testutil.ToFloat64(c.Updates); got != 1 {
		t.Fatalf("updates = %v, want 1", got)
	}
	if n := histogramSampleCount(t, reg, "beam_bandit_reward", nil); n != 1 {
		t.Fatalf("reward samples = %d, want 1", n)
	}
	if got := testutil.ToFloat64(c.SnapshotSaves.WithLabelValues("ok")); got != 1 {
		t.Fatalf("snapshot ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SnapshotSaves.WithLabelValues("error")); got != 1 {
		t.Fatalf("snapshot error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Clamps.WithLabelValues("context")); got != 1 {
		t.Fatalf("clamps{context} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PIDOutput); got != 12.5 {
		t.Fatalf("pid output = %v, want 12.5", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ControllerCollector
	c.ObserveTick("data", time.Millisecond)
	c.ObserveProbe("idle_interval")
	c.ObserveUpdate(1)
	c.ObserveSnapshot(nil)
	c.ObserveClamp("action")
	c.ObservePID(1, 10)
	if c.Handler() == nil {
		t.Fatal("expected default handler")
	}
}

func TestReRegisterReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewControllerCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewControllerCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	first.ObserveProbe("idle_interval")
	if got := testutil.ToFloat64(second.Probes.WithLabelValues("idle_interval")); got != 1 {
		t.Fatalf("shared probes counter = %v, want 1", got)
	}
}

func TestUnaryInterceptorCountsCodes(t *testing.T) {
	c, _ := newCollector(t)
	interceptor := c.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("rpc OK = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("rpc NotFound = %v, want 1", got)
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct{ in, service, method string }{
		{"/grpc.health.v1.Health/Check", "Health", "Check"},
		{"Health/Watch", "Health", "Watch"},
		{"", "unknown", "unknown"},
		{"/nomethod", "unknown", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.method {
			t.Errorf("SplitMethod(%q) = %q, %q; want %q, %q", tc.in, s, m, tc.service, tc.method)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c, _ := newCollector(t)
	c.ObserveTick("data", time.Millisecond)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "beam_controller_ticks_total") {
		t.Fatalf("expected ticks metric in output: %s", rr.Body.String())
	}
}

func TestTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("BEAM_TRACING_ENABLED", "TRUE")
	t.Setenv("BEAM_TRACING_EXPORTER", "OTLP")
	t.Setenv("BEAM_TRACING_SAMPLE_RATIO", "2")
	t.Setenv("BEAM_TRACING_SERVICE_NAME", "")

	cfg := TracingConfigFromEnv("beam-controller")
	if !cfg.Enabled {
		t.Fatal("expected tracing enabled")
	}
	if cfg.Exporter != "otlp" {
		t.Fatalf("exporter = %q, want otlp", cfg.Exporter)
	}
	if cfg.SampleRatio != 0.1 {
		t.Fatalf("out-of-range ratio should keep default, got %v", cfg.SampleRatio)
	}
	if cfg.ServiceName != "beam-controller" {
		t.Fatalf("service = %q", cfg.ServiceName)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
