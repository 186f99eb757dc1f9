package appstats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sippy/Sippy-Recorder/internal/config"
	log "github.com/sirupsen/logrus"
)

var (
	Calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "srs",
		Name:      "calls_total",
		Help:      "Number of handled calls by outcome",
	},
		[]string{
			"outcome", // connected/failed
		})

	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "srs",
		Name:      "active_calls",
		Help:      "Current number of active recording calls",
	})

	SectionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "srs",
		Name:      "section_failures_total",
		Help:      "Number of media sections whose relay negotiation failed",
	})

	InvalidOffers = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "srs",
		Name:      "invalid_offers_total",
		Help:      "Number of offers rejected before relay negotiation",
	})
)

func Init() {
	prometheus.MustRegister(Calls)
	prometheus.MustRegister(ActiveCalls)
	prometheus.MustRegister(SectionFailures)
	prometheus.MustRegister(InvalidOffers)
}

func ServePromMetrics(cfg config.Prometheus) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(cfg.ListenAddress, mux); err != nil {
			log.Errorf("prometheus listener failed: %s", err)
		}
	}()

	log.Infof("Prometheus metrics exported on %s", cfg.ListenAddress)
}
