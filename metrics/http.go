package metrics

import (
	"fmt"
	"net/http"

	"github.com/clipfetch/clipfetch/config"
	"github.com/clipfetch/clipfetch/log"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ListenAndServe exposes /metrics and /healthz. This is the only HTTP surface
// the bot has; everything else rides the Telegram long poll.
func ListenAndServe(promPort int) error {
	listen := fmt.Sprintf("0.0.0.0:%d", promPort)

	router := httprouter.New()
	router.Handler("GET", "/metrics", promhttp.Handler())
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.LogNoRequestID(
		"Starting Prometheus metrics",
		"version", config.Version,
		"host", listen,
	)
	return http.ListenAndServe(listen, router)
}
