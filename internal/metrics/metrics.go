// Package metrics holds the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devhost"

var (
	ProxyRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_requests_total",
		Help:      "Requests handled by the in-process reverse proxy, by outcome.",
	}, []string{"outcome"})

	InstanceStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instance_starts_total",
		Help:      "Instance start attempts, by service and result.",
	}, []string{"service", "result"})

	InstanceStops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instance_stops_total",
		Help:      "Instance stops, by how the process ended.",
	}, []string{"service", "signal"})

	Downloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "binary_downloads_total",
		Help:      "Binary installs, by service and result.",
	}, []string{"service", "result"})

	DownloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "binary_download_bytes_total",
		Help:      "Bytes fetched by binary downloads.",
	})

	InstancesRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "instances_running",
		Help:      "Running instances per service, as of the last reconcile.",
	}, []string{"service"})

	InstancesHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "instances_healthy",
		Help:      "Reachable instances per service, as of the last reconcile.",
	}, []string{"service"})

	Routes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "routes",
		Help:      "Routes currently registered in the proxy.",
	})

	ProxySyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "external_proxy_syncs_total",
		Help:      "Generated config rewrites for the external proxy, by result.",
	}, []string{"result"})
)

var registry = newRegistry()

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ProxyRequests,
		InstanceStarts,
		InstanceStops,
		Downloads,
		DownloadBytes,
		InstancesRunning,
		InstancesHealthy,
		Routes,
		ProxySyncs,
	)
	return r
}

// Registry exposes the collectors, mainly for tests.
func Registry() *prometheus.Registry { return registry }

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
