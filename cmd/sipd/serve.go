package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"copyfund/internal/handler"
	"copyfund/internal/paas"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cron scheduler and the ops HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	res, err := a.setup.Run(ctx, false)
	if err != nil {
		logger.Error("setup failed", zap.Error(err))
		return err
	}
	logger.Info("setup ready", zap.Bool("skipped", res.Skipped), zap.Int("seeded_funds", res.Status.SeededFunds))

	runner, err := a.newRunner(ctx, a.cfg.Cron.Enabled)
	if err != nil {
		logger.Error("register jobs failed", zap.Error(err))
		return err
	}

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              a.cfg.Server.HTTPAddr,
			Handler:           a.newEngine(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", zap.Error(err))
				stop()
			}
		}()
	}

	if a.cfg.Cron.Enabled {
		runner.Start()
	} else {
		logger.Info("cron disabled; jobs run only on demand")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if a.cfg.Cron.Enabled {
		runner.Stop()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
	}
	return nil
}

func (a *app) newEngine() *gin.Engine {
	if strings.EqualFold(a.cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(paas.RequireBearerMiddleware(a.cfg.PaaS))
	engine.Use(paas.WriteAuditMiddleware(a.reporter))

	health := &handler.HealthHandler{DB: a.store, Metrics: a.metrics.Handler()}
	health.Register(engine)
	paas.RegisterDocs(engine)

	investments := &handler.InvestmentHandler{Service: a.investments}
	investments.Register(engine)
	replications := &handler.ReplicationHandler{Service: a.investments}
	replications.Register(engine)
	admin := &handler.AdminHandler{Setup: a.setup, Settings: a.settings, Jobs: a.runner}
	admin.Register(engine)
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
