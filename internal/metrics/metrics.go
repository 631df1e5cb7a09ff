// Package metrics は認証 API の Prometheus メトリクスを提供します。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeOK は成功時の outcome ラベルです。
const OutcomeOK = "ok"

// Auth は認証操作の結果を数えるメトリクスです。nil でも呼び出せます。
type Auth struct {
	requests *prometheus.CounterVec
}

// NewRegistry は Go ランタイムとプロセスのコレクターを登録したレジストリを返します。
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewAuth は Auth を作成して reg に登録します。
func NewAuth(reg prometheus.Registerer) *Auth {
	a := &Auth{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_auth_requests_total",
				Help: "Total number of auth requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
	}
	reg.MustRegister(a.requests)
	return a
}

// Observe は操作の結果を1件記録します。outcome は成功なら OutcomeOK、失敗ならエラーコードです。
func (a *Auth) Observe(operation, outcome string) {
	if a == nil {
		return
	}
	a.requests.WithLabelValues(operation, outcome).Inc()
}

// Handler は /metrics 用のハンドラーを返します。
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
