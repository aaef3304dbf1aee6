package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderhub"

// Metrics 汇总订单服务暴露的所有指标。
// 所有方法对 nil 接收者安全，未注入指标时调用方无需判断。
type Metrics struct {
	cacheLookups *prometheus.CounterVec
	viewPatches  *prometheus.CounterVec
	rpcDuration  *prometheus.HistogramVec
	rpcOrphans   prometheus.Counter
	deadLetters  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New 创建并向 reg 注册全部指标。reg 为 nil 时使用默认 Registerer。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_cache_lookups_total",
			Help:      "Read-model cache lookups by view and result.",
		}, []string{"view", "result"}),
		viewPatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_patches_total",
			Help:      "Patch-on-write attempts against cached views.",
		}, []string{"view", "result"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inventory_rpc_duration_seconds",
			Help:      "Inventory request/reply round trip latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation", "outcome"}),
		rpcOrphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_orphan_replies_total",
			Help:      "Replies whose correlation id had no waiting caller.",
		}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Status events parked on the dead letter topic, by failure reason.",
		}, []string{"reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
	}
	reg.MustRegister(m.cacheLookups, m.viewPatches, m.rpcDuration, m.rpcOrphans, m.deadLetters, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) CacheLookup(view, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(view, result).Inc()
}

func (m *Metrics) ViewPatch(view, result string) {
	if m == nil {
		return
	}
	m.viewPatches.WithLabelValues(view, result).Inc()
}

func (m *Metrics) InventoryCall(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) OrphanReply() {
	if m == nil {
		return
	}
	m.rpcOrphans.Inc()
}

func (m *Metrics) DeadLetter(reason string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(reason).Inc()
}

// InstrumentHandler 记录每个路由的请求数和耗时。
func (m *Metrics) InstrumentHandler(name string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.httpRequests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		m.httpLatency.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
