// Command runner-service serves the sandboxed code execution API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coderunner/internal/common/cache"
	"coderunner/internal/common/http/middleware"
	"coderunner/internal/common/ratelimit"
	"coderunner/internal/runner/controller"
	"coderunner/internal/runner/service"
	"coderunner/internal/sandbox/engine"
	"coderunner/internal/sandbox/environment"
	"coderunner/internal/sandbox/observer"
	"coderunner/internal/sandbox/security"
	"coderunner/internal/sandbox/workspace"
	"coderunner/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/runner_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "runner-service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	catalog, err := loadCatalog(appCfg.Policy)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	manager, err := workspace.NewManager(workspace.Config{Root: appCfg.Workspace.Root})
	if err != nil {
		return fmt.Errorf("init workspace manager: %w", err)
	}

	var seccompProfile *security.SeccompProfile
	if appCfg.Sandbox.SeccompProfile != "" {
		seccompProfile, err = security.LoadSeccompProfile(appCfg.Sandbox.SeccompProfile)
		if err != nil {
			return fmt.Errorf("load seccomp profile: %w", err)
		}
	}
	builder, err := environment.NewBuilder(environment.BuilderConfig{
		Strictness:       appCfg.Sandbox.Strictness,
		EnableNamespaces: appCfg.Sandbox.EnableNamespaces,
		EnableSeccomp:    appCfg.Sandbox.EnableSeccomp,
		Seccomp:          seccompProfile,
	})
	if err != nil {
		return fmt.Errorf("init environment builder: %w", err)
	}

	eng, err := engine.NewEngine(engine.Config{
		HelperPath:        appCfg.Sandbox.HelperPath,
		CgroupRoot:        appCfg.Sandbox.CgroupRoot,
		EnableCgroup:      appCfg.Sandbox.EnableCgroup,
		EnableSeccomp:     appCfg.Sandbox.EnableSeccomp,
		KillOnOutputLimit: appCfg.Sandbox.KillOnOutputLimit,
		WaitDelay:         appCfg.Sandbox.WaitDelay,
	})
	if err != nil {
		return fmt.Errorf("init sandbox engine: %w", err)
	}

	var metrics observer.MetricsRecorder = observer.NoopMetricsRecorder{}
	registry := prometheus.NewRegistry()
	if appCfg.Metrics.Enabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := observer.NewPrometheusRecorder(registry)
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		metrics = recorder
	}

	svc, err := service.NewService(service.Config{
		Catalog:             catalog,
		Workspaces:          manager,
		Builder:             builder,
		Engine:              eng,
		Metrics:             metrics,
		MaxConcurrent:       appCfg.Admission.MaxConcurrent,
		AdmissionWait:       appCfg.Admission.Wait,
		SupervisoryOverhead: appCfg.Admission.SupervisoryOverhead,
	})
	if err != nil {
		return fmt.Errorf("init runner service: %w", err)
	}
	if err := svc.Health(); err != nil {
		logger.Warn(ctx, "runner not ready at startup", zap.Error(err))
	}

	limiter, closeLimiter, err := buildLimiter(appCfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	httpServer := buildHTTPServer(appCfg, svc, limiter, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}

	cgroupRoot := ""
	if appCfg.Sandbox.EnableCgroup {
		cgroupRoot = appCfg.Sandbox.CgroupRoot
	}
	reaper := workspace.NewReaper(manager, workspace.ReaperConfig{
		Interval:   appCfg.Workspace.ReaperInterval,
		MaxAge:     appCfg.Workspace.MaxAge,
		CgroupRoot: cgroupRoot,
	})

	reaper.Sweep(ctx, true)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		return reaper.Run(gctx)
	})
	g.Go(func() error {
		logger.Info(ctx, "runner-service http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("isolation", string(builder.Level())),
			zap.String("policy_version", catalog.Version()),
			zap.Int("max_concurrent", appCfg.Admission.MaxConcurrent),
		)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "http server shutdown failed", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func buildLimiter(appCfg *AppConfig) (ratelimit.Limiter, func(), error) {
	noop := func() {}
	if !appCfg.RateLimit.Enabled {
		return nil, noop, nil
	}
	if appCfg.RateLimit.Backend == rateBackendRedis {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return nil, noop, fmt.Errorf("init redis: %w", err)
		}
		limiter := ratelimit.NewFixedWindow(redisCache, appCfg.RateLimit.Max, appCfg.RateLimit.Window, appCfg.Redis.ReadTimeout)
		return limiter, func() { _ = redisCache.Close() }, nil
	}
	return ratelimit.NewLocal(appCfg.RateLimit.Max, appCfg.RateLimit.Window), noop, nil
}

func buildHTTPServer(cfg *AppConfig, svc *service.Service, limiter ratelimit.Limiter, registry *prometheus.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContextMiddleware())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.DecompressMiddleware(controller.MaxBodyBytes(svc.Catalog().Limits().MaxCodeBytes)))

	controller.NewRunnerController(svc).Register(router, middleware.RateLimitMiddleware(limiter, "execute"))
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	writeTimeout := cfg.Server.WriteTimeout
	if minimum := svc.Deadline() + 5*time.Second; writeTimeout < minimum {
		writeTimeout = minimum
	}
	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
