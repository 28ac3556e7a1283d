package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/fitquest/backend/internal/telemetry/metrics"

	log "github.com/sirupsen/logrus"
)

// PanicRecovery keeps a panicking handler from taking the whole service
// down. The panic is logged with its stack and counted, the connection is
// left to the http server to tear down.
func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(respWriter http.ResponseWriter, req *http.Request) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("http: panic serving %s %s: %v\n%s", req.Method, req.URL.Path, r, debug.Stack())
					if metricsManager != nil {
						metricsManager.CounterHandleRequestPanic.Inc()
					}
				}
			}()

			next.ServeHTTP(respWriter, req)
		})
	}
}
