package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeff-vincent/inventory-service/internal/config"
	"github.com/jeff-vincent/inventory-service/internal/consumer"
	"github.com/jeff-vincent/inventory-service/internal/health"
	"github.com/jeff-vincent/inventory-service/internal/logger"
	"github.com/jeff-vincent/inventory-service/internal/model"
	"github.com/jeff-vincent/inventory-service/internal/queue"
	"github.com/jeff-vincent/inventory-service/internal/repo"
	"github.com/jeff-vincent/inventory-service/internal/sequencer"
	"github.com/jeff-vincent/inventory-service/internal/service"
	httptransport "github.com/jeff-vincent/inventory-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Missing or unusable connections degrade the service instead of
	// killing it: the admin API stays up and /healthz carries the reason.
	state := health.NewState()

	// 3. store
	var repository repo.RepositoryInterface
	if cfg.Store.DSN == "" {
		log.Warn("MONGO_URL not set; store disabled, running degraded")
		state.SetDegraded("store connection string not configured")
	} else {
		gdb, err := gorm.Open(postgres.Open(cfg.Store.DSN), &gorm.Config{PrepareStmt: true})
		if err != nil {
			log.Warnf("open store: %v; running degraded", err)
			state.SetDegraded("store unreachable: " + err.Error())
		} else {
			if err := gdb.AutoMigrate(&model.StockRecord{}, &model.DedupEntry{}, &model.OutboxEvent{}); err != nil {
				log.Warnf("auto-migrate: %v; running degraded", err)
				state.SetDegraded("store migration failed: " + err.Error())
			} else {
				repository = repo.NewRepository(gdb, nil, log)
			}
		}
	}

	// 4. queue
	var source *queue.StreamSource
	if cfg.Queue.Addr == "" {
		log.Warn("EVENT_STORE_URL not set; queue disabled, running degraded")
		state.SetDegraded("queue connection string not configured")
	} else {
		rdb := redis.NewClient(redisOptions(cfg.Queue))
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warnf("queue ping: %v; running degraded", err)
			state.SetDegraded("queue unreachable: " + err.Error())
		} else {
			consumerName := hostname() + "-" + uuid.NewString()[:8]
			source = queue.NewStreamSource(rdb, cfg.Queue, consumerName, log)
			if err := source.Init(ctx); err != nil {
				log.Warnf("queue group init: %v; running degraded", err)
				state.SetDegraded("queue group init failed: " + err.Error())
				source = nil
			}
		}
	}

	// 5. service
	locks := sequencer.New()
	var dlq queue.DeadLetterReader
	if source != nil {
		dlq = source
	}
	svc := service.NewReconcilerService(repository, locks, cfg.Consumer.LockTimeout, dlq, log)

	// 6. consumer pool, only with both sides usable
	if repository != nil && source != nil {
		pool := consumer.NewPool(source, source, svc, cfg.Consumer, log)
		go func() {
			log.Infof("consumer pool started: %d workers on stream %q", cfg.Consumer.Workers, cfg.Queue.Stream)
			_ = pool.Run(ctx)
			log.Info("consumer pool stopped")
		}()
	} else {
		log.Warn("consumption disabled; serving admin API only")
	}

	// 7. admin / health API
	router := httptransport.NewRouter(svc, state, cfg.RateLimit, log)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Infof("inventory-server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen: %v", err)
	}
}

func redisOptions(q config.QueueConfig) *redis.Options {
	if strings.HasPrefix(q.Addr, "redis://") || strings.HasPrefix(q.Addr, "rediss://") {
		if opts, err := redis.ParseURL(q.Addr); err == nil {
			return opts
		}
	}
	return &redis.Options{Addr: q.Addr, Password: q.Password, DB: q.DB}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "inventory"
	}
	return h
}
