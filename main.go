package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/colloquyhq/colloquy/internal/agents"
	"github.com/colloquyhq/colloquy/internal/audit"
	"github.com/colloquyhq/colloquy/internal/auth"
	"github.com/colloquyhq/colloquy/internal/circuitbreaker"
	"github.com/colloquyhq/colloquy/internal/config"
	"github.com/colloquyhq/colloquy/internal/formatting"
	"github.com/colloquyhq/colloquy/internal/health"
	"github.com/colloquyhq/colloquy/internal/inference"
	"github.com/colloquyhq/colloquy/internal/knowledge"
	"github.com/colloquyhq/colloquy/internal/pipeline"
	"github.com/colloquyhq/colloquy/internal/policy"
	"github.com/colloquyhq/colloquy/internal/ratecontrol"
	"github.com/colloquyhq/colloquy/internal/roles"
	"github.com/colloquyhq/colloquy/internal/server"
	"github.com/colloquyhq/colloquy/internal/summarize"
	"github.com/colloquyhq/colloquy/internal/tracing"
)

func main() {
	configFlag := flag.String("config", "", "path to the configuration file (overrides CONFIG_PATH)")
	reportDir := flag.String("write-report", "", "also write finished run reports as markdown into this directory")
	devToken := flag.Bool("dev-token", false, "print a development access token and exit")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = config.DefaultPath
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if *devToken {
		jm := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
		pair, _, err := jm.GenerateTokenPair(auth.DevUser())
		if err != nil {
			logger.Fatal("Failed to mint development token", zap.Error(err))
		}
		fmt.Println(pair.AccessToken)
		return
	}

	circuitbreaker.StartMetricsCollection()

	// Hot reload: the manager re-decodes the main file, .rego changes
	// reach the policy engine, limits.yaml reaches the rate registry.
	var watcher *config.Watcher
	if w, err := config.NewWatcher(filepath.Dir(configPath), logger); err != nil {
		logger.Warn("Config watcher init failed, hot reload disabled", zap.Error(err))
	} else {
		manager := config.NewManager(w, cfg, logger)
		manager.Initialize()
		if err := w.Start(); err != nil {
			logger.Warn("Config watcher start failed, hot reload disabled", zap.Error(err))
		} else {
			watcher = w
		}
	}

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	store, err := knowledge.New(cfg.Knowledge, logger)
	if err != nil {
		logger.Fatal("Failed to initialize knowledge store", zap.Error(err))
	}
	retriever := knowledge.NewRetriever(store, logger)

	limits := ratecontrol.NewRegistry(cfg.Limits.Path, logger)
	if watcher != nil {
		watcher.OnFile(filepath.Base(cfg.Limits.Path), func(config.ChangeEvent) error {
			limits.Reload()
			return nil
		})
	}

	llm := inference.NewClient(cfg.Inference, limits, logger)
	summarizer := summarize.NewSummarizer(llm, logger)
	agentClient := agents.NewClient(cfg.Agents, limits, logger)

	roster := roles.Builtin()
	if cfg.Roles.Path != "" {
		roster, err = roles.LoadFromFile(cfg.Roles.Path)
		if err != nil {
			logger.Fatal("Failed to load role roster", zap.String("path", cfg.Roles.Path), zap.Error(err))
		}
		logger.Info("Role roster loaded", zap.String("path", cfg.Roles.Path), zap.Int("roles", len(roster)))
	}

	var (
		auditor     pipeline.Auditor
		reports     server.ReportStore
		auditWriter *audit.Writer
	)
	if cfg.Audit.Enabled {
		auditWriter, err = audit.NewWriter(cfg.Audit, logger)
		if err != nil {
			logger.Fatal("Failed to initialize audit writer", zap.Error(err))
		}
		auditor = auditWriter
		reports = auditWriter
	}

	orchestrator, err := pipeline.New(pipeline.Deps{
		Roles:      roster,
		Agents:     agentClient,
		Store:      store,
		Retriever:  retriever,
		Summarizer: summarizer,
		Auditor:    auditor,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}

	engine, err := policy.New(cfg.Policy, logger)
	if err != nil {
		logger.Fatal("Failed to initialize policy engine", zap.Error(err))
	}
	if watcher != nil {
		watcher.OnPolicyChange(engine.Reload)
	}

	var authMW *auth.Middleware
	if cfg.Auth.Enabled {
		jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
		authMW = auth.NewMiddleware(jwtManager, cfg.Auth.SkipAuth)
		logger.Info("Auth middleware initialized", zap.Bool("skip_auth", cfg.Auth.SkipAuth))
	}

	hm := health.NewManager(cfg.Health.CheckInterval, logger)
	if err := hm.RegisterChecker(health.NewStoreHealthChecker(store, cfg.Knowledge.Backend, logger)); err != nil {
		logger.Warn("Failed to register store health checker", zap.Error(err))
	}
	if auditWriter != nil {
		if err := hm.RegisterChecker(health.NewAuditHealthChecker(auditWriter.Wrapper(), logger)); err != nil {
			logger.Warn("Failed to register audit health checker", zap.Error(err))
		}
	}
	if err := hm.RegisterChecker(health.NewHTTPServiceHealthChecker("agent_runtime", cfg.Agents.BaseURL, true, logger)); err != nil {
		logger.Warn("Failed to register agent runtime health checker", zap.Error(err))
	}
	if err := hm.RegisterChecker(health.NewHTTPServiceHealthChecker("llm_service", cfg.Inference.BaseURL, false, logger)); err != nil {
		logger.Warn("Failed to register llm service health checker", zap.Error(err))
	}
	if cfg.Health.Enabled {
		if err := hm.Start(); err != nil {
			logger.Warn("Failed to start health manager", zap.Error(err))
		}
	}

	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())
	adminSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", cfg.Service.AdminPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	var runner server.Runner = orchestrator
	if *reportDir != "" {
		if err := os.MkdirAll(*reportDir, 0o755); err != nil {
			logger.Fatal("Failed to create report directory", zap.String("dir", *reportDir), zap.Error(err))
		}
		runner = &reportingRunner{inner: orchestrator, dir: *reportDir, log: logger.Named("reports")}
		logger.Info("Writing run reports", zap.String("dir", *reportDir))
	}

	srv, err := server.New(*cfg, server.Deps{
		Runner:  runner,
		Reports: reports,
		Policy:  engine,
		Auth:    authMW,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Failed to build API server", zap.Error(err))
	}
	apiSrv := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown failed", zap.Error(err))
	}
	if err := hm.Stop(); err != nil {
		logger.Error("Health manager stop failed", zap.Error(err))
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error("Config watcher stop failed", zap.Error(err))
		}
	}
	// Close the audit writer last so in-flight result saves drain.
	if auditWriter != nil {
		if err := auditWriter.Close(); err != nil {
			logger.Error("Audit writer close failed", zap.Error(err))
		}
	}
}

// reportingRunner mirrors every successful run into a markdown report
// on disk. Development convenience behind --write-report.
type reportingRunner struct {
	inner server.Runner
	dir   string
	log   *zap.Logger
}

func (r *reportingRunner) Run(ctx context.Context, input pipeline.RunInput) pipeline.Result {
	result := r.inner.Run(ctx, input)
	if result.Status != pipeline.StatusSuccess {
		return result
	}
	runID, _ := result.Metadata["run_id"].(string)
	if runID == "" {
		return result
	}
	rec := audit.RunRecord{
		RunID:     runID,
		Status:    result.Status,
		Findings:  result.Findings,
		Questions: result.Questions,
		Metadata:  result.Metadata,
		CreatedAt: time.Now(),
	}
	path := filepath.Join(r.dir, formatting.ReportFilename(runID))
	if err := os.WriteFile(path, []byte(formatting.RenderReport(rec, nil)), 0o644); err != nil {
		r.log.Warn("Failed to write report", zap.String("path", path), zap.Error(err))
		return result
	}
	r.log.Info("Report written", zap.String("path", path))
	return result
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	return zc.Build()
}
