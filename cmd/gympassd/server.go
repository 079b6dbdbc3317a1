package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mihaimyh/gympass/pkg/membership"
)

const readyTimeout = 2 * time.Second

// router mounts the membership API, the billing webhook and operational endpoints
func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(a.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readyTimeout)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.logger.Warn("readiness check failed", membership.F("error", err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Method(http.MethodPost, "/webhooks/stripe", a.webhookHandler())

	r.Get("/membership", a.handler.GetMembership)
	r.Post("/checkout", a.handler.Checkout)
	r.Route("/passes", func(r chi.Router) {
		r.Post("/", a.handler.IssuePass)
		r.Get("/{code}", a.handler.GetPass)
	})
	return r
}

func (a *app) httpServer() *http.Server {
	return &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.router(),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}
}

// accessLog logs one line per request at debug level, and at warn for 5xx
func accessLog(logger membership.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields := []membership.Field{
				membership.F("method", r.Method),
				membership.F("path", r.URL.Path),
				membership.F("status", ww.Status()),
				membership.F("duration_ms", time.Since(start).Milliseconds()),
				membership.F("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}
