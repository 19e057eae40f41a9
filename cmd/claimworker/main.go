package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	asyncqrepo "claimgate/internal/asyncq/repository"
	asyncqsvc "claimgate/internal/asyncq/service"
	claimsrepo "claimgate/internal/claims/repository"
	claimssvc "claimgate/internal/claims/service"
	claimsvalidator "claimgate/internal/claims/validator"
	"claimgate/internal/units/reconciler"
	unitsrepo "claimgate/internal/units/repository"
	"claimgate/pkg/clock"
	"claimgate/pkg/config"
	"claimgate/pkg/kafka"
	kafka_config "claimgate/pkg/kafka/config"
	"claimgate/pkg/lock"
	"claimgate/pkg/quota"
)

const ServiceName = "claimworker"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	cfg.SetRedis()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting claim worker")

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log.Info)

	lockManager := lock.NewManager(cfg.Client.Redis, cfg.LockPollInterval)
	quotaStore := quota.NewStore(cfg.Client.Redis)

	unitRepo := unitsrepo.NewMongoUnitRepository(cfg)
	claimRepo := claimsrepo.NewMongoClaimRepository(cfg)
	claimService := claimssvc.NewClaimService(
		claimRepo,
		unitRepo,
		claimsvalidator.NewClaimValidator(),
		lockManager,
		quotaStore,
		clock.NewSystem(),
		cfg,
	)

	requestRepo := asyncqrepo.NewMongoRequestRepository(cfg)
	consumerHandler := asyncqsvc.NewConsumerHandler(claimService, requestRepo, cfg)

	consumer, err := kafka.NewConsumer(
		kafkaCfg,
		asyncqsvc.TopicClaimRequests,
		asyncqsvc.GroupClaimWorkers,
		consumerHandler.Handle,
		cfg.Log,
	)
	if err != nil {
		cfg.Log.Fatal("Failed to create claim consumer", "error", err)
	}

	dltConsumer, err := kafka.NewConsumer(
		kafkaCfg,
		kafka.DeadLetterTopic(asyncqsvc.TopicClaimRequests),
		asyncqsvc.GroupDLTWorkers,
		consumerHandler.HandleDeadLetter,
		cfg.Log,
	)
	if err != nil {
		cfg.Log.Fatal("Failed to create dead-letter consumer", "error", err)
	}

	quotaReconciler := reconciler.New(unitRepo, claimRepo, quotaStore, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			cfg.Log.Error("Claim consumer stopped", "error", err)
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		if err := dltConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			cfg.Log.Error("Dead-letter consumer stopped", "error", err)
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		quotaReconciler.Run(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		cfg.Log.Info("Shutdown signal received", "signal", sig)
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()

	if err := consumer.Close(); err != nil {
		cfg.Log.Warn("Failed to close claim consumer", "error", err)
	}
	if err := dltConsumer.Close(); err != nil {
		cfg.Log.Warn("Failed to close dead-letter consumer", "error", err)
	}

	cfg.Log.Info("Claim worker stopped gracefully")
}
