// Package main provides the AgentFlow server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentflow/agentcore"
	"github.com/BaSui01/agentflow/bus"
	"github.com/BaSui01/agentflow/collab"
	"github.com/BaSui01/agentflow/config"
	"github.com/BaSui01/agentflow/internal/cache"
	"github.com/BaSui01/agentflow/internal/metrics"
	"github.com/BaSui01/agentflow/internal/server"
	"github.com/BaSui01/agentflow/internal/telemetry"
	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/embedding"
	"github.com/BaSui01/agentflow/llm/factory"
	"github.com/BaSui01/agentflow/orchestrator"
	"github.com/BaSui01/agentflow/statusmonitor"
	"github.com/BaSui01/agentflow/types"
	"github.com/BaSui01/agentflow/vault"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server is the AgentFlow composition root: it wires the Message Bus, Memory
// Vault, Agent Runtime and Registry/Orchestrator over the opened database and
// exposes them through the HTTP API.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	otel       *telemetry.Providers
	db         *gorm.DB

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler *healthHandler
	agentHandler  *agentHandler

	metricsCollector *metrics.Collector

	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	vaultService  *vault.Service
	registry      *orchestrator.Registry
	llmProviders  *llm.ProviderRegistry
	responseCache *cache.Manager

	ready atomicBool
	wg    sync.WaitGroup
}

// atomicBool is a minimal mutex-guarded flag; the readiness probe is the only
// caller and contention is never meaningful here.
type atomicBool struct {
	mu sync.RWMutex
	v  bool
}

func (b *atomicBool) set(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) get() bool  { b.mu.RLock(); defer b.mu.RUnlock(); return b.v }

// NewServer builds a Server ready to Start. otelProviders and db may be nil
// (telemetry disabled / database unavailable respectively); the server
// degrades gracefully in both cases, matching the teacher's "warn and
// continue" posture in runServe.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		otel:       otelProviders,
		db:         db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start wires the orchestration core and brings up the HTTP and metrics
// listeners.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("agentflow", s.logger)

	if err := s.initCore(); err != nil {
		return fmt.Errorf("failed to init orchestration core: %w", err)
	}

	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.ready.set(true)
	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 编排核心初始化
// =============================================================================

// initCore wires the Message Bus, LLM provider registry, Memory Vault and
// Registry/Orchestrator, then boots every agent listed under
// cfg.Orchestrator.Agents. The vault is skipped (with a warning, not a fatal
// error) when no database connection is available, mirroring runServe's
// existing "API key management disabled" degradation for the LLM key store.
func (s *Server) initCore() error {
	ctx := context.Background()

	s.llmProviders = buildProviderRegistry(ctx, s.cfg.LLM, s.logger)

	if s.db != nil {
		svc, err := s.buildVaultService(ctx)
		if err != nil {
			s.logger.Warn("vault service unavailable", zap.Error(err))
		} else {
			s.vaultService = svc
		}
	} else {
		s.logger.Warn("no database connection, memory vault disabled")
	}

	var statusMirror statusmonitor.Mirror
	if s.cfg.Redis.Addr != "" {
		if cacheMgr, err := buildResponseCache(s.cfg.Redis, s.logger); err != nil {
			s.logger.Warn("redis cache unavailable, status mirror and completion cache disabled", zap.Error(err))
		} else {
			s.responseCache = cacheMgr
			statusMirror = collab.NewRedisStatusMirror(cacheMgr, 0, s.logger)
		}
	}

	messageBus := bus.New(s.logger)
	s.registry = orchestrator.New(messageBus, statusMirror, s.logger, orchestrator.WithMetrics(s.metricsCollector))

	var completion agentcore.AICompletion = collab.New(s.llmProviders, s.logger)
	if s.responseCache != nil {
		completion = collab.NewCachedCompletion(completion, s.responseCache, 0, s.logger)
	}

	for _, boot := range s.cfg.Orchestrator.Agents {
		agent := buildAgent(boot, completion, messageBus, s.logger, s.cfg.Orchestrator)
		cfg := types.AgentConfig{
			AgentID:     types.AgentID(boot.ID),
			WorkspaceID: types.WorkspaceID(s.cfg.Vault.WorkspaceDefault),
			AIProvider:  boot.AIProvider,
			Model:       boot.Model,
		}
		if err := agent.Initialize(ctx, cfg); err != nil {
			return fmt.Errorf("initialize agent %s: %w", boot.ID, err)
		}
		if err := s.registry.RegisterAgent(agent, cfg); err != nil {
			return fmt.Errorf("register agent %s: %w", boot.ID, err)
		}
	}

	s.logger.Info("orchestration core ready",
		zap.Int("agents", len(s.cfg.Orchestrator.Agents)),
		zap.Strings("llm_providers", s.llmProviders.List()),
		zap.Bool("vault_enabled", s.vaultService != nil),
	)
	return nil
}

// buildAgent constructs the Agent Runtime instance for one boot entry. "critic"
// gets the specialized Critic, with a JWT ApprovalIssuer attached whenever
// orch.ApprovalSecret is configured; every other kind falls back to
// BaseAgent, matching agentcore's own "Critic and friends override this"
// comment.
func buildAgent(boot config.AgentBootConfig, completion agentcore.AICompletion, messageBus *bus.Bus, logger *zap.Logger, orch config.OrchestratorConfig) agentcore.Agent {
	kind := parseAgentKind(boot.Kind)
	cfg := types.AgentConfig{AgentID: types.AgentID(boot.ID), AIProvider: boot.AIProvider, Model: boot.Model}
	if kind == types.KindCritic {
		var opts []agentcore.CriticOption
		if orch.ApprovalSecret != "" {
			issuer := agentcore.NewApprovalIssuer(cfg.AgentID, []byte(orch.ApprovalSecret), orch.ApprovalTTL)
			opts = append(opts, agentcore.WithApprovalIssuer(issuer))
		}
		return agentcore.NewCritic(cfg, completion, messageBus, logger, 0, opts...)
	}
	return agentcore.NewBaseAgent(cfg, kind, completion, messageBus, logger)
}

func parseAgentKind(raw string) types.AgentKind {
	kind := types.AgentKind(raw)
	switch kind {
	case types.KindDirector, types.KindResearcher, types.KindExecutor, types.KindCreator,
		types.KindDesigner, types.KindDeveloper, types.KindAnalyst, types.KindCritic, types.KindGovernor:
		return kind
	default:
		return types.KindExecutor
	}
}

// buildProviderRegistry registers every LLM collaborator this process can
// reach: the always-available websocket demo provider, the teacher's
// factory-backed HTTP providers, and — when the configured default provider
// is one of the three vendor SDKs SPEC_FULL.md's domain stack names — the
// matching collab vendor-SDK adapter under that provider's canonical name.
func buildProviderRegistry(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) *llm.ProviderRegistry {
	reg := llm.NewProviderRegistry()
	reg.Register("websocket-demo", collab.NewWebSocketDemoProvider(0, logger))

	if cfg.DefaultProvider == "" || cfg.APIKey == "" {
		_ = reg.SetDefault("websocket-demo")
		return reg
	}

	switch cfg.DefaultProvider {
	case "openai":
		reg.Register("openai", collab.NewOpenAISDKProvider(cfg.APIKey, "", logger))
	case "anthropic", "claude":
		reg.Register("anthropic", collab.NewAnthropicSDKProvider(cfg.APIKey, "", logger))
	case "gemini":
		provider, err := collab.NewGeminiSDKProvider(ctx, cfg.APIKey, "", logger)
		if err != nil {
			logger.Warn("gemini-sdk provider unavailable", zap.Error(err))
			break
		}
		reg.Register("gemini", provider)
	default:
		p, err := factory.NewProviderFromConfig(cfg.DefaultProvider, factory.ProviderConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}, logger)
		if err != nil {
			logger.Warn("failed to construct configured LLM provider", zap.String("provider", cfg.DefaultProvider), zap.Error(err))
			break
		}
		reg.Register(cfg.DefaultProvider, p)
	}

	name := cfg.DefaultProvider
	if name == "claude" {
		name = "anthropic"
	}
	if err := reg.SetDefault(name); err != nil {
		logger.Warn("configured default LLM provider not registered, falling back to demo", zap.Error(err))
		_ = reg.SetDefault("websocket-demo")
	}
	return reg
}

// buildResponseCache opens a Redis-backed cache.Manager from cfg, used to
// memoize non-streaming completion responses so repeated identical prompts
// (e.g. a Critic re-scoring the same draft) skip the round trip to the LLM.
func buildResponseCache(cfg config.RedisConfig, logger *zap.Logger) (*cache.Manager, error) {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = cfg.Addr
	cacheCfg.Password = cfg.Password
	cacheCfg.DB = cfg.DB
	if cfg.PoolSize > 0 {
		cacheCfg.PoolSize = cfg.PoolSize
	}
	return cache.NewManager(cacheCfg, logger)
}

// buildVaultService resolves the master key (generating and persisting one
// on first boot via the OS keyring), migrates the vault's tables, builds the
// configured embedding collaborator, and constructs the Service.
func (s *Server) buildVaultService(ctx context.Context) (*vault.Service, error) {
	if err := vault.AutoMigrate(s.db); err != nil {
		return nil, fmt.Errorf("migrate vault tables: %w", err)
	}

	secrets := collab.NewKeyringSecretProvider()
	keyProvider := collab.NewMasterKeyProvider(secrets)
	masterKey, err := keyProvider.MasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve vault master key: %w", err)
	}

	opts := []vault.Option{
		vault.WithLogger(s.logger),
		vault.WithSecretProvider(secrets),
	}
	if embedder := buildEmbedder(s.cfg.Vault, s.cfg.LLM); embedder != nil {
		opts = append(opts, vault.WithEmbedder(embedder))
	}

	return vault.New(ctx, s.db, masterKey, opts...)
}

// buildEmbedder resolves the embedding collaborator named by
// vaultCfg.EmbeddingProvider, reusing the general LLM API key as the
// credential since VaultConfig carries no credential of its own. Returns nil
// when no provider is configured, which disables the re-embed backfill
// without failing vault construction.
func buildEmbedder(vaultCfg config.VaultConfig, llmCfg config.LLMConfig) *collab.Embedder {
	var provider embedding.Provider
	switch vaultCfg.EmbeddingProvider {
	case "openai":
		provider = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey: llmCfg.APIKey, BaseURL: llmCfg.BaseURL, Model: vaultCfg.EmbeddingModel,
			Dimensions: vaultCfg.EmbeddingDimension, Timeout: llmCfg.Timeout,
		})
	case "gemini":
		provider = embedding.NewGeminiProvider(embedding.GeminiConfig{
			APIKey: llmCfg.APIKey, BaseURL: llmCfg.BaseURL, Model: vaultCfg.EmbeddingModel, Timeout: llmCfg.Timeout,
		})
	case "voyage":
		provider = embedding.NewVoyageProvider(embedding.VoyageConfig{
			APIKey: llmCfg.APIKey, BaseURL: llmCfg.BaseURL, Model: vaultCfg.EmbeddingModel, Timeout: llmCfg.Timeout,
		})
	case "cohere":
		provider = embedding.NewCohereProvider(embedding.CohereConfig{
			APIKey: llmCfg.APIKey, BaseURL: llmCfg.BaseURL, Model: vaultCfg.EmbeddingModel, Timeout: llmCfg.Timeout,
		})
	case "jina":
		provider = embedding.NewJinaProvider(embedding.JinaConfig{
			APIKey: llmCfg.APIKey, BaseURL: llmCfg.BaseURL, Model: vaultCfg.EmbeddingModel, Timeout: llmCfg.Timeout,
		})
	default:
		return nil
	}
	return collab.NewEmbedder(provider)
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers builds the HTTP handlers now that the orchestration core
// (registry, vault, LLM providers) is wired.
func (s *Server) initHandlers() error {
	s.healthHandler = newHealthHandler(s.ready.get)
	s.agentHandler = newAgentHandler(s.registry, s.logger)
	s.logger.Info("Handlers initialized")
	return nil
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/v1/agents", s.agentHandler.HandleListAgents)
	mux.HandleFunc("/v1/agents/execute", s.agentHandler.HandleExecuteAgent)

	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux)
		s.logger.Info("Configuration API registered")
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rlCtx := context.Background()
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		SecurityHeaders(),
		RequestID(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rlCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Server.JWT.Secret != "" || s.cfg.Server.JWT.PublicKey != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
	} else {
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	s.ready.set(false)

	ctx := context.Background()

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	if s.responseCache != nil {
		if err := s.responseCache.Close(); err != nil {
			s.logger.Error("response cache shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
