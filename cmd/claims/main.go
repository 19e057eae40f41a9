package main

import (
	asyncqhandler "claimgate/internal/asyncq/handler"
	asyncqrepo "claimgate/internal/asyncq/repository"
	asyncqsvc "claimgate/internal/asyncq/service"
	claimshandler "claimgate/internal/claims/handler"
	claimsrepo "claimgate/internal/claims/repository"
	claimssvc "claimgate/internal/claims/service"
	claimsvalidator "claimgate/internal/claims/validator"
	unitshandler "claimgate/internal/units/handler"
	unitsrepo "claimgate/internal/units/repository"
	unitssvc "claimgate/internal/units/service"
	unitsvalidator "claimgate/internal/units/validator"
	"claimgate/pkg/app"
	"claimgate/pkg/clock"
	"claimgate/pkg/config"
	"claimgate/pkg/contracts"
	"claimgate/pkg/kafka"
	kafka_config "claimgate/pkg/kafka/config"
	"claimgate/pkg/lock"
	"claimgate/pkg/quota"

	"github.com/julienschmidt/httprouter"
)

const ServiceName = "claims"

// compositeHandler registers several route groups as one handler.
type compositeHandler []contracts.Handler

func (c compositeHandler) RegisterRoutes(router *httprouter.Router) {
	for _, h := range c {
		h.RegisterRoutes(router)
	}
}

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	cfg.SetRedis()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting claims service")

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log.Info)

	producer, err := kafka.NewProducer(kafkaCfg, asyncqsvc.TopicClaimRequests, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			cfg.Log.Warn("Failed to close Kafka producer", "error", err)
		}
	}()

	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(initHandlers(cfg, producer))
	serverApp.Run()
}

func initHandlers(cfg *config.Config, producer *kafka.Producer) contracts.Handler {
	lockManager := lock.NewManager(cfg.Client.Redis, cfg.LockPollInterval)
	quotaStore := quota.NewStore(cfg.Client.Redis)
	claimValidator := claimsvalidator.NewClaimValidator()

	unitRepo := unitsrepo.NewMongoUnitRepository(cfg)
	unitService := unitssvc.NewUnitService(unitRepo, unitsvalidator.NewUnitValidator(), quotaStore, cfg)

	claimRepo := claimsrepo.NewMongoClaimRepository(cfg)
	claimService := claimssvc.NewClaimService(
		claimRepo,
		unitRepo,
		claimValidator,
		lockManager,
		quotaStore,
		clock.NewSystem(),
		cfg,
	)

	requestRepo := asyncqrepo.NewMongoRequestRepository(cfg)
	requestService := asyncqsvc.NewRequestService(requestRepo, claimValidator, producer, cfg)

	cfg.Log.Info("Claims service initialized", "database", cfg.MongoDatabaseName)

	return compositeHandler{
		claimshandler.NewClaimHandler(claimService, cfg.Log),
		unitshandler.NewUnitHandler(unitService, cfg.Log),
		asyncqhandler.NewRequestHandler(requestService, cfg.Log),
	}
}
