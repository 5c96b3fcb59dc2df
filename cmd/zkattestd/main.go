package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ZKAttest-Chain/internal/api"
	"ZKAttest-Chain/internal/attest"
	"ZKAttest-Chain/internal/config"
	"ZKAttest-Chain/internal/envelope"
	"ZKAttest-Chain/internal/ledger/provider"
	"ZKAttest-Chain/internal/observability/metrics"
	"ZKAttest-Chain/internal/session"
	"ZKAttest-Chain/internal/storage/mysql"
	"ZKAttest-Chain/internal/verifier"
	"ZKAttest-Chain/internal/workflow"
	"ZKAttest-Chain/pkg/logger"
)

// main 是 ZKAttest 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("zkattestd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ZKATTEST_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "zkattest.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := createSessionStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	queue, err := createRunQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if queue != nil {
			if err := queue.Close(); err != nil {
				log.Printf("关闭运行队列失败: %v", err)
			}
		}
	}()

	dispatcher, err := createDispatcher(cfg)
	if err != nil {
		return err
	}

	registry, err := provider.NewRegistry(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer registry.Close()

	submitter, err := attest.NewSubmitter(registry.Endpoints(),
		attest.WithMaxAttempts(cfg.Ledger.MaxAttempts),
		attest.WithBaseDelay(time.Duration(cfg.Ledger.BaseDelayMS)*time.Millisecond),
		attest.WithCallTimeout(time.Duration(cfg.Ledger.CallTimeoutSeconds)*time.Second),
		attest.WithConfirmTimeout(time.Duration(cfg.Ledger.ConfirmTimeoutSeconds)*time.Second),
		attest.WithConfirmPollInterval(time.Duration(cfg.Ledger.ConfirmPollSeconds)*time.Second),
	)
	if err != nil {
		return err
	}

	broker := session.NewBroker(0)

	if err := os.MkdirAll(cfg.Workflow.ProofDir, 0o755); err != nil {
		return err
	}

	opts := []workflow.OrchestratorOption{
		workflow.WithBroker(broker),
		workflow.WithPhaseTimeout(time.Duration(cfg.Workflow.PhaseTimeoutSeconds) * time.Second),
		workflow.WithAttestDelay(time.Duration(cfg.Workflow.AttestDelayMS) * time.Millisecond),
	}
	for _, kind := range cfg.Workflow.Kinds {
		collector, err := workflow.NewFilesystemCollector(cfg.Workflow.ProofDir, kind)
		if err != nil {
			return err
		}
		opts = append(opts, workflow.WithCollector(collector))
	}

	orchestrator, err := workflow.NewOrchestrator(store, dispatcher, submitter, opts...)
	if err != nil {
		return err
	}

	service := workflow.NewService(store, queue, broker)
	defer func() {
		_ = service.Close()
	}()

	processorOpts := []workflow.ProcessorOption{
		workflow.WithWorkerCount(cfg.Workflow.WorkerCount),
	}
	if cfg.Storage.Archive.Driver == "mysql" {
		archive, err := mysql.NewSessionArchive(ctx, mysql.Config{DSN: cfg.Storage.Archive.DSN})
		if err != nil {
			return err
		}
		defer archive.Close()
		processorOpts = append(processorOpts, workflow.WithArchiver(archive))
	}

	processor := workflow.NewProcessor(orchestrator, queue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("会话处理器异常退出: %v", err)
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, service)

	if err := server.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func createSessionStore(cfg *config.Config) (session.Store, error) {
	ttl := time.Duration(cfg.Storage.SessionStore.TTLSeconds) * time.Second
	switch cfg.Storage.SessionStore.Driver {
	case "", "memory":
		return session.NewMemoryStore(ttl), nil
	case "redis":
		return session.NewRedisStore(session.RedisStoreConfig{
			Address:   cfg.Storage.SessionStore.Address,
			Password:  cfg.Storage.SessionStore.Password,
			DB:        cfg.Storage.SessionStore.DB,
			KeyPrefix: cfg.Storage.SessionStore.KeyPrefix,
			TTL:       ttl,
		})
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Storage.SessionStore.Driver)
	}
}

func createRunQueue(cfg *config.Config) (session.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return session.NewMemoryQueue(cfg.Queue.Size), nil
	case "redis":
		return session.NewRedisQueue(session.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
	case "rabbitmq":
		return session.NewRabbitMQQueue(session.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  cfg.Queue.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

// createDispatcher 装配全部内建证明体系的验证能力。
func createDispatcher(cfg *config.Config) (*verifier.Dispatcher, error) {
	if err := os.MkdirAll(cfg.Verifier.KeysDir, 0o755); err != nil {
		return nil, err
	}
	keys, err := verifier.NewFileKeySource(cfg.Verifier.KeysDir)
	if err != nil {
		return nil, err
	}
	return verifier.NewDispatcher(keys,
		verifier.WithCapability(envelope.SystemGroth16, verifier.NewGroth16Capability()),
		verifier.WithCapability(envelope.SystemPlonk, verifier.NewPlonkCapability()),
		verifier.WithCapability(envelope.SystemStark, verifier.NewStarkCapability()),
	), nil
}
