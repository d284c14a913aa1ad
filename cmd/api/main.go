package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shopapi/internal/config"
	"shopapi/internal/handler"
	"shopapi/internal/infra/cache"
	"shopapi/internal/infra/db"
	"shopapi/internal/infra/export"
	"shopapi/internal/infra/messaging"
	infraRepo "shopapi/internal/infra/repository"
	"shopapi/internal/logger"
	"shopapi/internal/server"
	"shopapi/internal/usecase"
	auth "shopapi/internal/usecase/auth_usecase"
	"shopapi/internal/validator"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	//設定（.envは無くてもよい）
	cfg, err := config.Load(".env", "../.env")
	if err != nil {
		return err
	}

	log, closer := logger.New("api", cfg.LogLevel, cfg.LogFile)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	//DB接続
	gormDB, err := db.Connect(cfg.DSN(), log)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := db.Seed(ctx, gormDB, db.SeedOptions{
		AdminEmail:    cfg.SeedAdminEmail,
		AdminPassword: cfg.SeedAdminPassword,
		BcryptCost:    cfg.BcryptCost,
	}, log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	checks := map[string]server.Pinger{"db": server.PingFunc(sqlDB.PingContext)}

	//Repository（GORM実装）生成
	txm := infraRepo.NewTxManagerGorm(gormDB)
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	categoryRepo := infraRepo.NewCategoryGormRepository(gormDB)
	cartRepo := infraRepo.NewCartGormRepository(gormDB)
	auditRepo := infraRepo.NewAuditLogGormRepository(gormDB)

	//Redis（任意）。無ければIdempotency-Keyは無視する
	var idem usecase.IdempotencyStore
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer rdb.Close()
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.IdempotencyTTL)
		checks["redis"] = server.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info().Str("addr", cfg.RedisAddr).Msg("idempotency store enabled")
	}

	//usecaseに渡す部品
	clock := usecase.SystemClock
	authValidator := validator.NewAuthValidator()
	hasher := auth.NewBcryptPasswordHasher(cfg.BcryptCost)
	verifier := auth.NewBcryptPasswordVerifier()
	issuer := auth.NewJWTIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)

	//Usecase生成
	registerUC := auth.NewRegisterUserUsecase(userRepo, authValidator, hasher, issuer, auth.UUIDGenerator{}, clock)
	loginUC := auth.NewLoginUsecase(userRepo, authValidator, verifier, issuer, clock)
	accountUC := auth.NewAccountUsecase(userRepo, txm)
	categoryUC := usecase.NewCategoryUsecase(txm, categoryRepo)
	productUC := usecase.NewProductUsecase(txm, productRepo, categoryRepo, export.NewProductXLSXExporter())
	cartUC := usecase.NewCartUsecase(txm, cartRepo)
	orderUC := usecase.NewOrderUsecase(txm, idem, clock)
	auditUC := usecase.NewAuditLogUsecase(auditRepo)

	//Handler生成
	srv := server.New(cfg.Addr(), log)
	srv.RegisterRoutes(cfg, userRepo, server.Handlers{
		Auth:         handler.NewAuthHandler(registerUC, loginUC, accountUC),
		Categories:   handler.NewCategoryHandler(categoryUC),
		Products:     handler.NewProductHandler(productUC),
		AdminProduct: handler.NewAdminProductHandler(productUC),
		AdminUser:    handler.NewAdminUserHandler(accountUC),
		AuditLogs:    handler.NewAuditLogHandler(auditUC),
		Cart:         handler.NewCartHandler(cartUC),
		Orders:       handler.NewOrderHandler(orderUC),
	}, checks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	//Kafka（任意）。無ければoutboxは溜まるだけ
	if len(cfg.KafkaBrokers) > 0 {
		pub := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicOrders)
		defer pub.Close()
		relay := messaging.NewOutboxRelay(txm, pub, cfg.OutboxInterval, log)
		g.Go(func() error { return relay.Run(gctx) })
	} else {
		log.Info().Msg("KAFKA_BROKERS not set, outbox relay disabled")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
		return err
	}
	log.Info().Msg("bye")
	return nil
}
