package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	app "github.com/okian/roastboard/internal/app"
	"github.com/okian/roastboard/internal/config"
	"github.com/okian/roastboard/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.New()
	cfg.AudioDir = t.TempDir()
	cfg.SimulatedLatencyMinMS = 0
	cfg.SimulatedLatencyMaxMS = 0
	return cfg
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			t.Setenv("ROASTBOARD_ADDR", ":8080")
			t.Setenv("ROASTBOARD_QUEUE_SIZE", "1000")
			t.Setenv("ROASTBOARD_WORKER_COUNT", "4")

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the address is empty", func() {
			t.Setenv("ROASTBOARD_ADDR", "")

			convey.Convey("Then configuration loading should fail", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestRouter(t *testing.T) {
	convey.Convey("Given a started service behind the router", t, func() {
		cfg := testConfig(t)
		svc := app.New(app.WithConfig(cfg), app.WithLogger(logger.Nop()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(newRouter(cfg, svc, logger.Nop()))
		defer srv.Close()

		convey.Convey("Then every mounted route answers", func() {
			for _, path := range []string{"/healthz", "/readyz", "/stats", "/leaderboard", "/api-docs", "/openapi.yaml"} {
				resp, err := http.Get(srv.URL + path)
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("And browser preflights get CORS headers", func() {
			for _, path := range []string{"/submit", "/process", "/leaderboard", "/api-docs"} {
				req, err := http.NewRequest(http.MethodOptions, srv.URL+path, nil)
				convey.So(err, convey.ShouldBeNil)
				req.Header.Set("Origin", "https://booth.example")
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				resp, err := http.DefaultClient.Do(req)
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusNoContent)
				convey.So(resp.Header.Get("Access-Control-Allow-Origin"), convey.ShouldEqual, "*")
			}
		})

		convey.Convey("And the metrics updater stops with its context", func() {
			updCtx, updCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer updCancel()
			convey.So(func() { startServiceMetricsUpdater(updCtx, svc) }, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(ctx, svc) }, convey.ShouldNotPanic)
		})
	})
}
