package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"attestation-core/internal/bot"
	"attestation-core/internal/handler"
	"attestation-core/internal/ledger"
	"attestation-core/internal/model"
	"attestation-core/internal/notification"
	"attestation-core/internal/server"
	"attestation-core/internal/service"
	"attestation-core/internal/service/mq"
	"attestation-core/internal/service/rates"
	"attestation-core/internal/verifyinvestor"
	"attestation-core/pkg/config"
	"attestation-core/pkg/database"
	"attestation-core/pkg/keylock"
	"attestation-core/pkg/logger"
	"attestation-core/pkg/monitor"
)

// @title Accredited Investor Attestation API
// @version 1.0
// @description Webhook and operator endpoints of the attestation bot

// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. Config
	config.Init()

	// 1. Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 2. Metrics
	monitor.Init()

	// 3. Database
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}

	// 4. Redis
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}

	// 5. Schema (dev only, production uses the migrate tool)
	if config.Global.App.Env == "development" {
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		logger.Info("auto migrate done (dev mode)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Exchange rates
	rateProvider := rates.NewProvider(config.Global.Finance.RateURL, rdb)
	if err := rateProvider.Refresh(ctx); err != nil {
		logger.Warn("initial exchange rate fetch failed, will retry on schedule", zap.Error(err))
	}

	// 7. Wallet bridge
	bridge := ledger.NewBridge(config.Global.Hub.BridgeURL)
	if err := bridge.Start(ctx); err != nil {
		logger.Fatal("wallet bridge connection failed", zap.Error(err))
	}

	// 8. Fixed wallet addresses: index 0 posts attestations, index 1
	// pays the rewards
	attestorAddress, err := bridge.IssueOrSelectAddress(ctx, 0)
	if err != nil {
		logger.Fatal("issue attestor address failed", zap.Error(err))
	}
	distributionAddress, err := bridge.IssueOrSelectAddress(ctx, 1)
	if err != nil {
		logger.Fatal("issue distribution address failed", zap.Error(err))
	}
	logger.Info("wallet addresses ready",
		zap.String("attestor", attestorAddress), zap.String("distribution", distributionAddress))

	// 9. Shared pieces
	notifier := notification.NewEmailNotifier(config.Global.SMTP)
	locks := keylock.New()
	viClient := verifyinvestor.NewClient(
		config.Global.VerifyInvestor.BaseURL,
		config.Global.VerifyInvestor.APIToken,
		config.Global.VerifyInvestor.AuthToken,
	)

	// 10. Services
	payments := service.NewPaymentService(db, bridge, rateProvider, viClient, notifier, locks,
		config.Global.Finance, config.Global.RealName)
	verification := service.NewVerificationService(db, bridge, viClient, notifier, locks, config.Global.RealName)
	referral := service.NewReferralService(db, bridge, attestorAddress, config.Global.Finance.MaxReferralDepth)
	rewards := service.NewRewardService(db, bridge, notifier, locks)
	rewards.SetDistributionAddress(distributionAddress)
	attestations := service.NewAttestationService(db, bridge, rateProvider, referral, rewards, notifier, locks,
		config.Global.Finance)
	attestations.SetAttestorAddress(attestorAddress)
	consolidation := service.NewConsolidationService(db, bridge, notifier)
	consolidation.SetAttestorAddress(attestorAddress)

	verification.SetAccreditedHandler(attestations.EnrolAccredited)

	// 11. Message queue + outbox relay
	var producer mq.Producer
	if config.Global.Redis.MQType == "kafka" {
		logger.Info("using Kafka as message queue")
		producer = mq.NewKafkaProducer(config.Global.Kafka.Brokers)
	} else {
		logger.Info("using Redis Streams as message queue")
		producer = mq.NewRedisProducer(rdb)
	}
	relay := service.NewRelayService(db, producer)
	go relay.Start(ctx)

	// 12. Chat bot
	chatBot := bot.New(db, bridge, viClient, rateProvider, payments, locks,
		config.Global.Finance, config.Global.RealName)
	go chatBot.Run(ctx)

	// 13. Periodic sweeps
	cronService := service.NewCronService(rdb, rateProvider, attestations, rewards, verification, consolidation)
	cronService.Start()

	// 14. HTTP server
	webhook := handler.NewWebhookHandler(verification, notifier)
	admin := handler.NewAdminHandler(db, bridge, verification, attestations, rewards)
	admin.AttestorAddress = attestorAddress
	admin.DistributionAddress = distributionAddress
	r := server.NewHTTPRouter(webhook, admin)

	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r)
	app.OnShutdown(func() {
		cronService.Stop()
		cancel()
	})
	app.Run()

	// 15. Cleanup
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("shut down")
}
