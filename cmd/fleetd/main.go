// Package main — точка входа демона флота (fleetd). Парсим флаги, грузим
// конфигурацию, поднимаем инфраструктуру (vault, postgres, прокси, очередь
// задач, LLM-клиент) и передаём управление manager.Manager, который уже сам
// стартует воркеров и периодические задачи. Последовательность запуска:
// bootstrap, config, logger, signals, run.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/dialogueproc"
	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/infra/config"
	"telegram-fleet/internal/infra/llm"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/pr"
	"telegram-fleet/internal/infra/proxy"
	"telegram-fleet/internal/infra/repository/postgres"
	"telegram-fleet/internal/infra/taskqueue/inmemory"
	"telegram-fleet/internal/infra/taskqueue/redis"
	"telegram-fleet/internal/infra/vault"
	"telegram-fleet/internal/manager"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix(time.Now().Format("2006-01-02 15:04:05 "))
	if err := pr.Init(); err != nil {
		log.Fatalf("failed to assign stdout and stderr: %v", err)
	}

	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(config.Env().LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if lf := config.Env().LogFile; lf != "" {
		logger.EnableFileSink(lf, config.Env().LogMaxSizeMB, config.Env().LogMaxBackups, config.Env().LogMaxAgeDays)
		defer logger.DisableFileSink()
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, cleanup, err := buildManager(ctx)
	if err != nil {
		log.Fatalf("fleetd: build manager: %v", err)
	}
	defer cleanup()

	if err := m.Start(ctx); err != nil {
		log.Fatalf("fleetd: manager start failed: %v", err)
	}
	logger.Info("fleetd: fleet started")

	<-ctx.Done()
	logger.Info("fleetd: shutdown signal received, stopping fleet")
	m.Stop()
	logger.Info("fleetd: graceful shutdown complete")
}

// buildManager wires every infrastructure dependency the manager needs
// and returns a ready-to-Start *manager.Manager plus a cleanup
// func that releases process-wide resources (db pool, proxy registry file).
func buildManager(ctx context.Context) (*manager.Manager, func(), error) {
	env := config.Env()

	v, err := vault.New(env.VaultKeyHex)
	if err != nil {
		return nil, nil, err
	}

	conn, err := postgres.Connect(ctx, env.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}

	accountRepo := postgres.NewAccountRepository(conn)
	proxyRepo := postgres.NewProxyRepository(conn)
	appRepo := postgres.NewTelegramAppRepository(conn)
	campaignRepo := postgres.NewCampaignRepository(conn)
	targetRepo := postgres.NewTargetRepository(conn)
	dialogueRepo := postgres.NewDialogueRepository(conn)
	warmupRepo := postgres.NewWarmupRepository(conn)

	proxyDBPath := env.DataDir + "/proxy_registry.db"
	registry, err := proxy.New(proxyDBPath, proxyRepo)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := registry.Load(ctx); err != nil {
		_ = registry.Close()
		conn.Close()
		return nil, nil, err
	}

	checker := proxy.NewHealthChecker(registry, env.ProxyChecksPerSecond)

	store := buildQueueStore(env)

	llmClient, err := llm.NewClient(env.LLMAPIKey, env.ProcessProxyURL, llm.WithTimeout(time.Duration(env.LLMTimeoutSec)*time.Second))
	if err != nil {
		_ = registry.Close()
		conn.Close()
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // humanization jitter, not security
	processor := dialogueproc.New(llmClient, rng)
	results := campaign.NewResultWriter(env.DataDir)

	m := manager.New(manager.Params{
		AccountRepo:         accountRepo,
		ProxyRepo:           proxyRepo,
		AppRepo:             appRepo,
		ProxyRegistry:       registry,
		Vault:               v,
		Queue:               store,
		DialogueRepo:        dialogueRepo,
		CampaignRepo:        campaignRepo,
		TargetRepo:          targetRepo,
		WarmupRepo:          warmupRepo,
		Processor:           processor,
		LLM:                 llmClient,
		Results:             results,
		Rng:                 rng,
		ProxyChecker:        checker,
		ProxyCheckInterval:  time.Duration(env.ProxyCheckInterval) * time.Second,
		MaxFleetSize:        env.MaxFleetSize,
		WorkerSpacing:       time.Duration(env.WorkerSpacingMS) * time.Millisecond,
		TargetBatchLimit:    env.TargetBatchLimit,
		DistributeInterval:  time.Duration(env.DistributeInterval) * time.Second,
		HealthCheckInterval: time.Duration(env.HealthCheckInterval) * time.Second,
		DBSyncInterval:      time.Duration(env.DBSyncInterval) * time.Second,
	})

	cleanup := func() {
		_ = registry.Close()
		conn.Close()
	}
	return m, cleanup, nil
}

// buildQueueStore selects the task queue backend per QUEUE_BACKEND:
// "redis" is the fleet's reference deployment target, "inmemory" serves
// single-process/test runs without a Redis dependency.
func buildQueueStore(env config.EnvConfig) queue.Store {
	if env.QueueBackend == "inmemory" {
		return inmemory.New()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr: env.RedisAddr,
		DB:   env.RedisDB,
	})
	return redis.New(rdb)
}
