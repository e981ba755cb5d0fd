package prometheus

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sifan077/ClickURL/config"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	defaultPort       = 9090
	defaultPath       = "/metrics"
)

// NewServer builds the side HTTP server exposing the clickurl metrics at
// cfg.Path. Collection errors are logged and the remaining metrics are
// still served.
func NewServer(cfg config.PrometheusConfig, log *zap.Logger) *http.Server {
	if log == nil {
		log = zap.NewNop()
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}

	metrics := promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:      zap.NewStdLog(log),
			ErrorHandling: promhttp.ContinueOnError,
		}),
	)

	mux := http.NewServeMux()
	mux.Handle(path, metrics)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		ErrorLog:          zap.NewStdLog(log),
	}
}
