// Package main — fleetctl, the operator console. It connects
// straight to the fleet's Postgres and queue backend and runs read-only
// introspection plus a handful of administrative commands; it does not talk
// to a running fleetd process; it reads straight from the same
// Postgres/Redis the daemon uses, with no IPC layer in between.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/infra/config"
	"telegram-fleet/internal/infra/console"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/pr"
	"telegram-fleet/internal/infra/repository/postgres"
	"telegram-fleet/internal/infra/taskqueue/inmemory"
	"telegram-fleet/internal/infra/taskqueue/redis"
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

	env := config.Env()
	bg := context.Background()

	conn, err := postgres.Connect(bg, env.PostgresDSN)
	if err != nil {
		log.Fatalf("fleetctl: connect postgres: %v", err)
	}
	defer conn.Close()

	store := buildQueueStore(env)

	svc := console.NewService(console.Deps{
		AccountRepo:  postgres.NewAccountRepository(conn),
		CampaignRepo: postgres.NewCampaignRepository(conn),
		Queue:        store,
	})

	ctx, stop := signal.NotifyContext(bg, os.Interrupt, syscall.SIGTERM)
	svc.Start(ctx, stop)
	<-ctx.Done()
	stop()
	svc.Stop()
}

func buildQueueStore(env config.EnvConfig) queue.Store {
	if env.QueueBackend == "inmemory" {
		return inmemory.New()
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: env.RedisAddr, DB: env.RedisDB})
	return redis.New(rdb)
}
