// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// オーケストレーターやワーカーから利用する。
type MetricsCollector interface {
	RecordGenerationSuccess(isIteration bool)
	RecordGenerationFailure(reason string)
	RecordMalformedOutput()
	RecordDebitUnreconciled()
	RecordPersistenceDegraded()
	RecordCreditsCharged(amount int)
	RecordGenerationLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	genSuccess        *prometheus.CounterVec
	genFail           *prometheus.CounterVec
	malformedOutput   prometheus.Counter
	debitUnreconciled prometheus.Counter
	persistDegraded   prometheus.Counter
	creditsCharged    prometheus.Counter
	genLatency        prometheus.Histogram
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		genSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playable_generation_success_total",
			Help: "ゲーム生成成功の合計数",
		}, []string{"kind"}),
		genFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playable_generation_fail_total",
			Help: "ゲーム生成失敗の合計数（理由別）",
		}, []string{"reason"}),
		malformedOutput: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playable_malformed_output_total",
			Help: "修復パス後も解析できなかった生成出力の合計数",
		}),
		debitUnreconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playable_debit_unreconciled_total",
			Help: "減算リトライが尽き未精算のまま配信された生成の合計数",
		}),
		persistDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playable_persistence_degraded_total",
			Help: "課金後に世代・セッションの永続化が失敗した生成の合計数",
		}),
		creditsCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playable_credits_charged_total",
			Help: "課金されたクレジットの合計",
		}),
		genLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "playable_generation_latency_seconds",
			Help:    "生成1回のレイテンシ（秒）",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playable_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.genSuccess,
		c.genFail,
		c.malformedOutput,
		c.debitUnreconciled,
		c.persistDegraded,
		c.creditsCharged,
		c.genLatency,
		c.httpStatus,
	)

	return c
}

// RecordGenerationSuccess は生成成功を記録する。
func (c *Collector) RecordGenerationSuccess(isIteration bool) {
	kind := "new_game"
	if isIteration {
		kind = "iteration"
	}
	c.genSuccess.WithLabelValues(kind).Inc()
}

// RecordGenerationFailure は生成失敗を理由付きで記録する。
func (c *Collector) RecordGenerationFailure(reason string) {
	c.genFail.WithLabelValues(reason).Inc()
}

// RecordMalformedOutput は解析不能な生成出力を記録する。
func (c *Collector) RecordMalformedOutput() {
	c.malformedOutput.Inc()
}

// RecordDebitUnreconciled は未精算のまま配信された生成を記録する。
func (c *Collector) RecordDebitUnreconciled() {
	c.debitUnreconciled.Inc()
}

// RecordPersistenceDegraded は課金後の永続化失敗を記録する。
func (c *Collector) RecordPersistenceDegraded() {
	c.persistDegraded.Inc()
}

// RecordCreditsCharged は課金されたクレジット数を記録する。
func (c *Collector) RecordCreditsCharged(amount int) {
	c.creditsCharged.Add(float64(amount))
}

// RecordGenerationLatency は生成のレイテンシを記録する。
func (c *Collector) RecordGenerationLatency(duration time.Duration) {
	c.genLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
