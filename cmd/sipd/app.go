package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"copyfund/internal/activity"
	"copyfund/internal/client/solana"
	"copyfund/internal/config"
	cronrunner "copyfund/internal/cron"
	"copyfund/internal/db"
	"copyfund/internal/lease"
	"copyfund/internal/logger"
	"copyfund/internal/metrics"
	"copyfund/internal/paas"
	gormrepository "copyfund/internal/repository/gorm"
	"copyfund/internal/service"
)

const (
	jobSIPExecution  = "sip_execution"
	jobWalletMonitor = "wallet_monitor"
	jobRetention     = "retention"
)

// app holds everything the subcommands share.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *db.DB
	store    *gormrepository.Store
	metrics  *metrics.Metrics
	reporter *paas.Reporter
	locker   lease.Locker

	settings    *service.SystemSettingsService
	setup       *service.SetupService
	investments *service.InvestmentService
	sip         *service.SIPExecutor
	monitor     *service.TraderMonitor
	retention   *service.RetentionSweeper
	runner      *cronrunner.Runner

	closers []func()
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath, opts.envOnly)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newApp connects to the store and builds the services. An unreachable
// store is returned as an error and is fatal for every subcommand.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log, "copyfund-scheduler")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("db open: %w", err)
	}
	a.db = dbConn
	a.closers = append(a.closers, func() { _ = db.Close(dbConn) })

	a.store = gormrepository.New(dbConn.Gorm)
	a.metrics = metrics.New()
	a.reporter = paas.NewReporter(paas.NewClient(cfg.PaaS), cfg.PaaS.Agent, log)
	loginCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	a.reporter.Login(loginCtx)
	cancel()

	a.locker, err = a.newLocker(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	detector, err := newDetector(cfg.Detector)
	if err != nil {
		a.close()
		return nil, err
	}
	log.Info("trader activity detector", zap.String("kind", detector.Name()))

	a.settings = &service.SystemSettingsService{Repo: a.store}
	a.setup = &service.SetupService{
		Repo:          a.store,
		Settings:      a.settings,
		Migrate:       func(ctx context.Context) error { return db.AutoMigrate(dbConn) },
		SeedDemoFunds: cfg.Setup.SeedDemoFunds,
		Logger:        log,
	}
	a.investments = &service.InvestmentService{Repo: a.store, Logger: log, Metrics: a.metrics}
	a.sip = &service.SIPExecutor{
		Repo:    a.store,
		Logger:  logger.ForJob(log, jobSIPExecution),
		Metrics: a.metrics,
		Flags:   a.settings,
		Config:  cfg.Scheduler,
	}
	a.monitor = &service.TraderMonitor{
		Repo:     a.store,
		Detector: detector,
		Logger:   logger.ForJob(log, jobWalletMonitor),
		Metrics:  a.metrics,
		Flags:    a.settings,
		Config:   cfg.Monitor,
	}
	a.retention = &service.RetentionSweeper{
		Repo:    a.store,
		Logger:  logger.ForJob(log, jobRetention),
		Metrics: a.metrics,
		Flags:   a.settings,
		Config:  cfg.Retention,
	}
	return a, nil
}

func (a *app) newLocker(ctx context.Context) (lease.Locker, error) {
	switch strings.ToLower(strings.TrimSpace(a.cfg.Lease.Backend)) {
	case "", "memory":
		return lease.NewMemoryLocker(), nil
	case "redis":
		l := lease.NewRedisLocker(&redis.Options{
			Addr:     a.cfg.Lease.RedisAddr,
			Password: a.cfg.Lease.RedisPass,
			DB:       a.cfg.Lease.RedisDB,
		}, a.cfg.Lease.Prefix)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := l.Ping(pingCtx); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("redis lease backend: %w", err)
		}
		a.closers = append(a.closers, func() { _ = l.Close() })
		return l, nil
	default:
		return nil, fmt.Errorf("unknown lease backend %q", a.cfg.Lease.Backend)
	}
}

func newDetector(cfg config.DetectorConfig) (activity.Detector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "mock":
		return activity.NewMockDetector(cfg.MockProbability, cfg.MockMaxRatio, time.Now().UnixNano()), nil
	case "onchain":
		perSecond := cfg.RPCRatePerSecond
		if perSecond <= 0 {
			perSecond = 5
		}
		burst := cfg.RPCBurst
		if burst <= 0 {
			burst = 1
		}
		client := solana.NewClient(
			&http.Client{Timeout: cfg.RPCTimeout},
			cfg.RPCURL,
			rate.NewLimiter(rate.Limit(perSecond), burst),
		)
		return activity.NewOnChainDetector(client, cfg.SignaturesPerPoll), nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}

// newRunner registers the three jobs. Specs are only attached when schedule is set.
func (a *app) newRunner(baseCtx context.Context, schedule bool) (*cronrunner.Runner, error) {
	r := cronrunner.New(cronrunner.Options{
		Logger:   a.logger,
		BaseCtx:  baseCtx,
		Locker:   a.locker,
		LeaseTTL: a.cfg.Lease.TTL,
		Metrics:  a.metrics,
		Reporter: a.reporter,
	})
	spec := func(s string) string {
		if !schedule {
			return ""
		}
		return s
	}
	jobs := []struct {
		name string
		spec string
		job  cronrunner.Job
	}{
		{jobSIPExecution, a.cfg.Cron.SIPExecution, func(ctx context.Context) error {
			_, err := a.sip.RunOnce(ctx)
			return err
		}},
		{jobWalletMonitor, a.cfg.Cron.WalletMonitor, func(ctx context.Context) error {
			_, err := a.monitor.RunOnce(ctx)
			return err
		}},
		{jobRetention, a.cfg.Cron.Retention, func(ctx context.Context) error {
			_, err := a.retention.RunOnce(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if _, err := r.Add(j.name, spec(j.spec), j.job); err != nil {
			return nil, err
		}
	}
	a.runner = r
	return r, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
