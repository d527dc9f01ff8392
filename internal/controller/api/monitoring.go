package api

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ReadinessCheck probes one backing dependency.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type MonitoringServer struct {
	router *mux.Router
	config *config.Config
	checks []ReadinessCheck
}

func NewMonitoringServer(r *mux.Router, cfg *config.Config, checks ...ReadinessCheck) *MonitoringServer {
	return &MonitoringServer{
		router: r,
		config: cfg,
		checks: checks,
	}
}

func (s *MonitoringServer) Routes() {
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/liveness", s.handleLiveness()).Methods(http.MethodGet)
	s.router.HandleFunc("/readiness", s.handleReadiness()).Methods(http.MethodGet)

	if s.config.Profile {
		logger.Log.Warn("WARNING: Enabling the profiler endpoint!!")
		s.router.PathPrefix("/debug").Handler(http.DefaultServeMux)
	}
}

func (s *MonitoringServer) handleLiveness() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func (s *MonitoringServer) handleReadiness() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		for _, check := range s.checks {
			if err := check.Check(ctx); err != nil {
				logger.Log.WithFields(logrus.Fields{
					"error": err,
					"check": check.Name}).Error("Readiness check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
	}
}
