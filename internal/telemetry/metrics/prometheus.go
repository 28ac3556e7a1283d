package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// SetupPrometheus creates the registry backing the /metrics endpoint of the
// dedicated metrics server. The service's own reminder metrics get
// registered on it through NewManager.
func SetupPrometheus() *prometheus.Registry {
	promRegistry := prometheus.NewRegistry()

	// build info, go runtime and process collectors
	promRegistry.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return promRegistry
}
