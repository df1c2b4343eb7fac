package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
	MetricTypeSummary MetricType = "summary"
)

const (
	MetricPredictRequests = "examscore_predict_requests_total"
	MetricPredictRecords  = "examscore_predict_records_total"
	MetricPredictFailures = "examscore_predict_failures_total"
	MetricPredictLatency  = "examscore_predict_latency_seconds"
)

// latencyWindow is the number of most recent observations a summary keeps.
const latencyWindow = 1000

// MetricsCollector 指标收集器
type MetricsCollector struct {
	metricsLock sync.RWMutex
	counters    map[string]float64
	latencies   map[string][]float64
	help        map[string]string

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:  make(map[string]float64),
		latencies: make(map[string][]float64),
		help: map[string]string{
			MetricPredictRequests: "Prediction requests served",
			MetricPredictRecords:  "Records scored",
			MetricPredictFailures: "Prediction requests that failed, by status",
			MetricPredictLatency:  "Prediction latency in seconds",
		},
		startTime: time.Now(),
	}
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()
	mc.counters[seriesKey(name, labels)] += value
}

// Observe 记录一次耗时
func (mc *MetricsCollector) Observe(name string, d time.Duration) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	window := append(mc.latencies[name], d.Seconds())
	if len(window) > latencyWindow {
		window = window[len(window)-latencyWindow:]
	}
	mc.latencies[name] = window
}

// RecordPrediction 记录一次预测请求
func (mc *MetricsCollector) RecordPrediction(records int, d time.Duration, status int) {
	mc.IncrCounter(MetricPredictRequests, 1, nil)
	if status >= 400 {
		mc.IncrCounter(MetricPredictFailures, 1, map[string]string{"status": fmt.Sprint(status)})
	} else {
		mc.IncrCounter(MetricPredictRecords, float64(records), nil)
	}
	mc.Observe(MetricPredictLatency, d)
}

// Counter returns the current value of a counter series.
func (mc *MetricsCollector) Counter(name string, labels map[string]string) float64 {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()
	return mc.counters[seriesKey(name, labels)]
}

// LatencySummary 耗时摘要
type LatencySummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// GetLatencySummary 获取耗时摘要
func (mc *MetricsCollector) GetLatencySummary(name string) (LatencySummary, error) {
	mc.metricsLock.RLock()
	data := stats.Float64Data(append([]float64(nil), mc.latencies[name]...))
	mc.metricsLock.RUnlock()

	if len(data) == 0 {
		return LatencySummary{}, nil
	}
	summary := LatencySummary{Count: len(data)}
	var err error
	if summary.Mean, err = data.Mean(); err != nil {
		return LatencySummary{}, err
	}
	if summary.P50, err = data.Percentile(50); err != nil {
		return LatencySummary{}, err
	}
	if summary.P95, err = data.Percentile(95); err != nil {
		return LatencySummary{}, err
	}
	if summary.P99, err = data.Percentile(99); err != nil {
		return LatencySummary{}, err
	}
	if summary.Max, err = data.Max(); err != nil {
		return LatencySummary{}, err
	}
	return summary, nil
}

// Snapshot 指标快照
type Snapshot struct {
	Uptime     string                    `json:"uptime"`
	Goroutines int                       `json:"goroutines"`
	HeapAlloc  uint64                    `json:"heap_alloc"`
	Counters   map[string]float64        `json:"counters"`
	Latency    map[string]LatencySummary `json:"latency"`
}

// GetSnapshot 获取所有指标
func (mc *MetricsCollector) GetSnapshot() (Snapshot, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mc.metricsLock.RLock()
	counters := make(map[string]float64, len(mc.counters))
	for k, v := range mc.counters {
		counters[k] = v
	}
	names := make([]string, 0, len(mc.latencies))
	for name := range mc.latencies {
		names = append(names, name)
	}
	mc.metricsLock.RUnlock()

	latency := make(map[string]LatencySummary, len(names))
	for _, name := range names {
		summary, err := mc.GetLatencySummary(name)
		if err != nil {
			return Snapshot{}, err
		}
		latency[name] = summary
	}
	return Snapshot{
		Uptime:     mc.GetUptime().Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		Counters:   counters,
		Latency:    latency,
	}, nil
}

// ExportPrometheus 导出Prometheus格式
func (mc *MetricsCollector) ExportPrometheus() (string, error) {
	snapshot, err := mc.GetSnapshot()
	if err != nil {
		return "", err
	}
	var b strings.Builder

	keys := make([]string, 0, len(snapshot.Counters))
	for k := range snapshot.Counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	described := make(map[string]bool)
	for _, key := range keys {
		name := key
		if i := strings.IndexByte(key, '{'); i >= 0 {
			name = key[:i]
		}
		if !described[name] {
			mc.writeHeader(&b, name, MetricTypeCounter)
			described[name] = true
		}
		fmt.Fprintf(&b, "%s %g\n", key, snapshot.Counters[key])
	}

	names := make([]string, 0, len(snapshot.Latency))
	for name := range snapshot.Latency {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := snapshot.Latency[name]
		mc.writeHeader(&b, name, MetricTypeSummary)
		fmt.Fprintf(&b, "%s{quantile=\"0.5\"} %g\n", name, s.P50)
		fmt.Fprintf(&b, "%s{quantile=\"0.95\"} %g\n", name, s.P95)
		fmt.Fprintf(&b, "%s{quantile=\"0.99\"} %g\n", name, s.P99)
		fmt.Fprintf(&b, "%s_count %d\n", name, s.Count)
	}

	mc.writeHeader(&b, "examscore_goroutines", MetricTypeGauge)
	fmt.Fprintf(&b, "examscore_goroutines %d\n", snapshot.Goroutines)
	return b.String(), nil
}

func (mc *MetricsCollector) writeHeader(b *strings.Builder, name string, t MetricType) {
	help := mc.help[name]
	if help == "" {
		help = fmt.Sprintf("Metric %s", name)
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, t)
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}
