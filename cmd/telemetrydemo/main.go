// Command telemetrydemo runs a small instrumented HTTP service. It
// exists to show the wiring order: tracing middleware first, then
// Instrument, then application routes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/joeshaw/envdecode"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/zenithlabs/telemetry/httptelemetry"
	"github.com/zenithlabs/telemetry/tracing"
)

type config struct {
	Port           int    `env:"PORT,default=8080"`
	ServiceName    string `env:"SERVICE_NAME,default=telemetry-demo"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	TracingEnabled bool   `env:"TRACING_ENABLED,default=false"`

	Telemetry httptelemetry.Config
	Tracing   tracing.Config
}

func main() {
	var cfg config
	envdecode.MustDecode(&cfg)

	if l, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(l)
	}
	logger := logrus.WithField("app", cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := chi.NewRouter()

	if cfg.TracingEnabled {
		mw, shutdown, err := tracing.Instrument(ctx, cfg.ServiceName, cfg.Tracing)
		if err != nil {
			logger.WithError(err).Fatal("configuring tracing")
		}
		defer shutdown(context.Background())
		r.Use(mw)
	}

	reg, err := httptelemetry.Instrument(r, cfg.ServiceName, httptelemetry.Options{
		MultiprocessDir: cfg.Telemetry.MultiprocessDir,
		Logger:          logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("configuring telemetry")
	}
	defer reg.Close()

	r.Get("/hello/{name}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "hello, %s\n", chi.URLParam(r, "name"))
	})
	r.Get("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(250 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	var g run.Group
	g.Add(func() error {
		logger.WithField("addr", srv.Addr).Info("listening")
		return srv.ListenAndServe()
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if err := g.Run(); err != nil {
		if _, ok := err.(run.SignalError); ok {
			logger.WithError(err).Info("shutting down")
			return
		}
		logger.WithError(err).Error("server exited")
	}
}
