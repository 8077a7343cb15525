package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a web page to start, stop and talk to the target",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8080)")
}

func serve(cfg Config) error {
	var (
		clientMgr = &enginetest.ClientManager{}
		reg       = prometheus.NewRegistry()
	)

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sh := &serverHandler{
		host:    enginetest.DetectHost(),
		cfg:     cfg,
		clients: clientMgr,
		metrics: metrics.New(reg),
	}

	e := newRouter(sh, reg)

	srv, err := startWebServer(cfg.Addr, e)
	if err != nil {
		return err
	}

	// shutdown on interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Debug("shutdown initiated")
	{
		stopWebServer(srv)
		stopHarness(sh)
		clientMgr.Close()
	}
	log.Info("shutdown complete")
	return nil
}

func newRouter(sh *serverHandler, reg *prometheus.Registry) *gin.Engine {
	e := gin.New()
	e.Use(gin.Logger(), gin.Recovery(), serverMiddleware(sh))

	// routes: target handling
	{
		e.GET("/", rootHandler)
		e.POST("/start", startHandler)
		e.POST("/stop", stopHandler)
		e.POST("/command", commandHandler)
		e.POST("/expect", expectHandler)
	}

	// routes: client handling
	{
		e.GET("/ws", webSocketHandler)
		e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	return e
}

func startWebServer(addr string, e http.Handler) (*http.Server, error) {
	srv := &http.Server{
		Addr:    addr,
		Handler: e,
	}

	errc := make(chan error, 1)

	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return nil, err
	case <-time.After(time.Millisecond * 100):
	}

	log.WithField("addr", addr).Info("listening")
	return srv, nil
}

func stopWebServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server failed to shutdown")
	}
}

func stopHarness(sh *serverHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sh.Stop(ctx); err != nil {
		log.WithError(err).Error("stopping target")
	}
}
