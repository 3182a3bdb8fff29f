package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

var httpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graylogic_hub_http_requests_total",
		Help: "HTTP requests served, by method, route pattern and status code.",
	},
	[]string{"method", "route", "status"},
)

var wsTriggerSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "graylogic_hub_websocket_trigger_subscriptions",
	Help: "Device triggers currently attached on behalf of WebSocket clients.",
})

func init() {
	prometheus.MustRegister(httpRequestsTotal, wsTriggerSubscriptions)
}
