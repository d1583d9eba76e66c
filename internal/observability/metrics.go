package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// #region collector
// ControllerCollector bundles the Prometheus metrics for the beam controller,
// the PID loop and the operator surfaces. Every method is safe on a nil
// receiver so callers can run without metrics.
type ControllerCollector struct {
	gatherer prometheus.Gatherer

	Ticks          *prometheus.CounterVec
	TickDurations  prometheus.Histogram
	Probes         *prometheus.CounterVec
	Updates        prometheus.Counter
	Rewards        prometheus.Histogram
	SnapshotSaves  *prometheus.CounterVec
	Clamps         *prometheus.CounterVec
	PIDOutput      prometheus.Gauge
	PIDPacketSizes prometheus.Histogram
	RPCRequests    *prometheus.CounterVec
}

// NewControllerCollector registers metrics against reg, defaulting to the
// global registry when nil. Re-registering returns the existing collectors.
func NewControllerCollector(reg prometheus.Registerer) (*ControllerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &ControllerCollector{gatherer: gatherer}
	var err error

	if c.Ticks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beam_controller_ticks_total",
		Help: "Controller ticks, labeled by outcome.",
	}, []string{"outcome"}), "beam_controller_ticks_total"); err != nil {
		return nil, err
	}
	if c.TickDurations, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beam_controller_tick_duration_seconds",
		Help:    "Wall time spent inside one controller tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}), "beam_controller_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Probes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beam_controller_probes_total",
		Help: "Probe packets emitted, labeled by reason.",
	}, []string{"reason"}), "beam_controller_probes_total"); err != nil {
		return nil, err
	}
	if c.Updates, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beam_bandit_updates_total",
		Help: "Bandit rounds completed with an observed reward.",
	}), "beam_bandit_updates_total"); err != nil {
		return nil, err
	}
	if c.Rewards, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beam_bandit_reward",
		Help:    "Shaped reward fed to the bandit.",
		Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 5},
	}), "beam_bandit_reward"); err != nil {
		return nil, err
	}
	if c.SnapshotSaves, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beam_snapshot_saves_total",
		Help: "Bandit snapshot saves, labeled by result.",
	}, []string{"result"}), "beam_snapshot_saves_total"); err != nil {
		return nil, err
	}
	if c.Clamps, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beam_index_clamps_total",
		Help: "Angles clamped into the bandit table, labeled by kind.",
	}, []string{"kind"}), "beam_index_clamps_total"); err != nil {
		return nil, err
	}
	if c.PIDOutput, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beam_pid_output",
		Help: "Latest PID controller output.",
	}), "beam_pid_output"); err != nil {
		return nil, err
	}
	if c.PIDPacketSizes, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "beam_pid_packet_size",
		Help:    "Packet sizes chosen by the PID transmission policy.",
		Buckets: []float64{10, 50, 100, 150, 200, 250, 300},
	}), "beam_pid_packet_size"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beam_rpc_requests_total",
		Help: "Handled gRPC requests, labeled by service, method, and status code.",
	}, []string{"service", "method", "code"}), "beam_rpc_requests_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// #endregion collector

// #region observers
// ObserveTick counts one tick under outcome and records its duration.
func (c *ControllerCollector) ObserveTick(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.WithLabelValues(outcome).Inc()
	c.TickDurations.Observe(d.Seconds())
}

// ObserveProbe counts an emitted probe.
func (c *ControllerCollector) ObserveProbe(reason string) {
	if c == nil {
		return
	}
	c.Probes.WithLabelValues(reason).Inc()
}

// ObserveUpdate counts a bandit update and records its reward.
func (c *ControllerCollector) ObserveUpdate(reward float64) {
	if c == nil {
		return
	}
	c.Updates.Inc()
	c.Rewards.Observe(reward)
}

// ObserveSnapshot counts a snapshot save; a nil err is a success.
func (c *ControllerCollector) ObserveSnapshot(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.SnapshotSaves.WithLabelValues(result).Inc()
}

// ObserveClamp counts a clamped context or action index.
func (c *ControllerCollector) ObserveClamp(kind string) {
	if c == nil {
		return
	}
	c.Clamps.WithLabelValues(kind).Inc()
}

// ObservePID records the PID output and the packet size it produced.
func (c *ControllerCollector) ObservePID(output float64, size int) {
	if c == nil {
		return
	}
	c.PIDOutput.Set(output)
	c.PIDPacketSizes.Observe(float64(size))
}

// #endregion observers

// #region grpc
// UnaryServerInterceptor counts unary RPCs by service, method and status.
func (c *ControllerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if c == nil || c.RPCRequests == nil {
			return resp, err
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// SplitMethod splits "/pkg.Service/Method" into "Service" and "Method",
// returning "unknown" for parts it cannot find.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service, method := parts[len(parts)-2], parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// #endregion grpc

// #region handler
// Handler exposes the collector's registry for scraping.
func (c *ControllerCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// #endregion handler

func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
