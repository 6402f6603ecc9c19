package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MorseWayne/shop_fulfillment/internal/api"
	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/config"
	"github.com/MorseWayne/shop_fulfillment/internal/database"
	"github.com/MorseWayne/shop_fulfillment/internal/limiter"
	"github.com/MorseWayne/shop_fulfillment/internal/logger"
	"github.com/MorseWayne/shop_fulfillment/internal/mq"
	"github.com/MorseWayne/shop_fulfillment/internal/observability"
	"github.com/MorseWayne/shop_fulfillment/internal/repo"
	"github.com/MorseWayne/shop_fulfillment/internal/router"
	"github.com/MorseWayne/shop_fulfillment/internal/service"
)

const (
	cartTTL          = 7 * 24 * time.Hour
	sweepBatchSize   = 100
	mqConnectTimeout = 10 * time.Second
)

// AppDependencies 包含应用的所有依赖
type AppDependencies struct {
	Orders           service.OrderService
	OrderHandler     *api.OrderHandler
	InventoryHandler *api.InventoryHandler
	JWTService       service.JWTService
}

// initConfigAndLogger 初始化配置和日志器
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %v", err)
	}

	return cfg, lg, nil
}

// initTelemetry 初始化链路追踪与日志导出，日志同时写入 OTel 桥
func initTelemetry(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*zap.Logger, observability.ShutdownFunc, error) {
	if !cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		return lg, func(context.Context) error { return nil }, nil
	}

	_, traceShutdown, err := observability.SetupTracingSDK(ctx, cfg.App, cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("setup tracing: %w", err)
	}
	lp, logShutdown, err := observability.SetupLoggingSDK(ctx, cfg.App, cfg.Tracing)
	if err != nil {
		_ = traceShutdown(ctx)
		return nil, nil, fmt.Errorf("setup log export: %w", err)
	}

	lg = logger.Tee(lg, otelzap.NewCore(cfg.App.Name, otelzap.WithLoggerProvider(lp)))
	lg.Sugar().Infow("telemetry enabled", "endpoint", cfg.Tracing.Endpoint)
	return lg, observability.Combine(traceShutdown, logShutdown), nil
}

// initDatabase 初始化数据库连接并执行迁移
func initDatabase(cfg *config.Config, lg *zap.Logger) (*database.DB, error) {
	db, err := database.New(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// 在 HTTP 服务启动前完成迁移
	lg.Sugar().Infow("using migrations directory", "path", cfg.Migrations.Dir)
	if err := db.RunMigrations(cfg.Migrations.Dir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %v", err)
	}

	return db, nil
}

// initCache 初始化缓存实例，Redis 可用时同时返回其客户端供限流器使用
func initCache(cfg *config.Config, lg *zap.Logger) (cache.Cache, redis.UniversalClient) {
	if !cfg.Cache.Enabled {
		lg.Sugar().Infow("cache disabled")
		return cache.NewNullCache(), nil
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	switch cfg.Cache.Type {
	case "memory":
		lg.Sugar().Infow("cache enabled", "type", "memory", "ttl", cfg.Cache.TTL)
		return cache.NewMemoryCache(), nil
	case "tiered":
		redisCache, err := cache.NewRedisCache(redisAddr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Sugar().Warnw("failed to connect to Redis, falling back to memory cache", "error", err)
			return cache.NewMemoryCache(), nil
		}
		tiered := cache.NewTieredCache(redisCache, cache.NewMemoryCache(), cache.BreakerSettings{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		}, lg)
		lg.Sugar().Infow("cache enabled", "type", "tiered", "addr", redisAddr, "ttl", cfg.Cache.TTL)
		return tiered, redisCache.Client()
	case "redis":
		redisCache, err := cache.NewRedisCache(redisAddr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Sugar().Warnw("failed to connect to Redis, falling back to memory cache", "error", err)
			return cache.NewMemoryCache(), nil
		}
		lg.Sugar().Infow("cache enabled", "type", "redis", "addr", redisAddr, "ttl", cfg.Cache.TTL)
		return redisCache, redisCache.Client()
	default:
		lg.Sugar().Warnw("unknown cache type, using memory cache", "type", cfg.Cache.Type)
		return cache.NewMemoryCache(), nil
	}
}

// initLimiter 下单限流器，有 Redis 时使用分布式令牌桶
func initLimiter(cfg *config.Config, client redis.UniversalClient, lg *zap.Logger) limiter.Limiter {
	if !cfg.RateLimit.Enabled {
		lg.Sugar().Infow("checkout rate limit disabled")
		return nil
	}
	lc := limiterConfig(cfg.RateLimit)
	if client != nil {
		lg.Sugar().Infow("checkout rate limit enabled", "backend", "redis", "rate", lc.Rate, "window", lc.Window, "burst", lc.Burst)
		return limiter.NewTokenBucketLimiter(client, lc)
	}
	lg.Sugar().Infow("checkout rate limit enabled", "backend", "memory", "rate", lc.Rate, "window", lc.Window, "burst", lc.Burst)
	return limiter.NewMemoryLimiter(lc)
}

func limiterConfig(rc config.RateLimitConfig) limiter.Config {
	return limiter.Config{
		Rate:      int64(rc.Rate),
		Window:    rc.Window,
		Burst:     int64(rc.Burst),
		KeyPrefix: "ratelimit:checkout",
	}
}

// initMessaging 连接 RabbitMQ 并声明拓扑；不可用时降级为不发布事件
func initMessaging(ctx context.Context, cfg *config.Config, lg *zap.Logger) (service.EventPublisher, *mq.ConnectionManager, *mq.Producer) {
	if !cfg.MQ.Enabled {
		lg.Sugar().Infow("message queue disabled")
		return service.NopPublisher{}, nil, nil
	}

	mqCfg := mq.FromAppConfig(cfg.MQ)
	if err := mqCfg.Validate(); err != nil {
		lg.Sugar().Warnw("invalid message queue config, events disabled", "error", err)
		return service.NopPublisher{}, nil, nil
	}

	cm := mq.NewConnectionManager(mqCfg, lg.Named("mq"))
	connectCtx, cancel := context.WithTimeout(ctx, mqConnectTimeout)
	defer cancel()
	if err := cm.Connect(connectCtx); err != nil {
		lg.Sugar().Warnw("failed to connect to RabbitMQ, events disabled", "error", err)
		return service.NopPublisher{}, nil, nil
	}
	if err := mq.SetupTopology(cm, mqCfg); err != nil {
		lg.Sugar().Warnw("failed to declare RabbitMQ topology, events disabled", "error", err)
		_ = cm.Close()
		return service.NopPublisher{}, nil, nil
	}

	producer := mq.NewProducer(cm, mqCfg, lg.Named("mq"))
	return mq.NewPublisher(producer, cfg.App.Name), cm, producer
}

// initDependencies 初始化应用依赖（仓储、服务、处理器）
func initDependencies(cfg *config.Config, db *database.DB, cacheInstance, stateStore cache.Cache, publisher service.EventPublisher, lg *zap.Logger) *AppDependencies {
	// 仓储
	var productRepo repo.ProductRepository = repo.NewProductRepository(db.DB)
	if cfg.Cache.Enabled {
		productRepo = repo.NewCachedProductRepository(productRepo, cacheInstance, cfg.Cache.TTL)
	}
	stockRepo := repo.NewStockRepository(db.DB)
	alertRepo := repo.NewAlertRepository(db.DB)
	orderRepo := repo.NewOrderRepository(db.DB)
	reservationRepo := repo.NewReservationRepository(db.DB)
	carts := repo.NewCartStore(stateStore, cartTTL)

	// 服务
	alerts := service.NewAlertService(alertRepo, publisher, lg)
	stock := service.NewStockService(stockRepo, productRepo, alerts, cache.NewInvalidator(cacheInstance, lg), publisher, lg)
	stats := service.NewStatsService(stockRepo, alertRepo, alerts)
	orders := service.NewOrderService(stock, productRepo, orderRepo, carts, reservationRepo,
		service.NewShippingPolicy(cfg.Shipping), publisher, lg,
		service.OrderServiceOptions{
			ReservationTTL:      cfg.Reservation.TTL,
			CompensationTimeout: cfg.Order.CompensationTimeout,
		})

	return &AppDependencies{
		Orders:           orders,
		OrderHandler:     api.NewOrderHandler(orders, lg),
		InventoryHandler: api.NewInventoryHandler(stock, stats, alerts, lg),
		JWTService:       service.NewJWTService(cfg.JWT, lg),
	}
}

// runReservationSweeper 定期释放过期预占
func runReservationSweeper(ctx context.Context, orders service.OrderService, interval time.Duration, lg *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			released, err := orders.ReleaseExpiredReservations(ctx, now, sweepBatchSize)
			if err != nil {
				lg.Sugar().Warnw("reservation sweep failed", "error", err)
				continue
			}
			if released > 0 {
				lg.Sugar().Infow("released expired reservations", "count", released)
			}
		}
	}
}

// serve 启动 HTTP 服务、消费者与后台任务，收到退出信号后优雅关闭
func serve(ctx context.Context, cfg *config.Config, handler http.Handler, deps *AppDependencies, cm *mq.ConnectionManager, lg *zap.Logger) error {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lg.Sugar().Infow("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		lg.Sugar().Infow("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if cm != nil {
		consumer := mq.NewConsumer(cm, mq.FromAppConfig(cfg.MQ), mq.QueueOrderCancelled,
			mq.OrderCancelledHandler(deps.Orders, lg.Named("mq")), lg.Named("mq"))
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.Reservation.SweepInterval > 0 {
		g.Go(func() error {
			return runReservationSweeper(gctx, deps.Orders, cfg.Reservation.SweepInterval, lg)
		})
	}

	return g.Wait()
}

// healthChecks 汇总依赖探活
func healthChecks(db *database.DB, c cache.Cache, cm *mq.ConnectionManager) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{
		"mysql": db.PingContext,
		"cache": c.Ping,
	}
	if cm != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if !cm.IsConnected() {
				return fmt.Errorf("rabbitmq %s", cm.State())
			}
			return nil
		}
	}
	return checks
}

// main 为应用入口，协调各个组件的初始化和启动
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) 加载配置和初始化日志
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	// 2) 链路追踪
	lg, telemetryShutdown, err := initTelemetry(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			lg.Sugar().Errorw("telemetry shutdown error", "err", err)
		}
	}()

	// 3) 初始化数据库连接并执行迁移
	db, err := initDatabase(cfg, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to initialize database", "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database connection", "err", err)
		}
	}()

	// 4) 缓存、限流与消息队列
	cacheInstance, redisClient := initCache(cfg, lg)
	defer cacheInstance.Close()
	stateStore := cacheInstance
	if !cfg.Cache.Enabled {
		// 购物车与幂等记录必须有实际存储
		stateStore = cache.NewMemoryCache()
	}
	checkoutLimiter := initLimiter(cfg, redisClient, lg)

	publisher, cm, producer := initMessaging(ctx, cfg, lg)
	if cm != nil {
		defer cm.Close()
		defer producer.Close()
	}

	// 5) 初始化应用依赖（仓储、服务、处理器）
	deps := initDependencies(cfg, db, cacheInstance, stateStore, publisher, lg)

	// 6) 设置路由和中间件
	handler := router.New().Setup(cfg, &router.Dependencies{
		OrderHandler:     deps.OrderHandler,
		InventoryHandler: deps.InventoryHandler,
		TokenValidator:   deps.JWTService,
		CheckoutLimiter:  checkoutLimiter,
		IdempotencyStore: stateStore,
		HealthChecks:     healthChecks(db, cacheInstance, cm),
	}, lg)

	// 7) 启动服务
	if err := serve(ctx, cfg, handler, deps, cm, lg); err != nil {
		lg.Sugar().Errorw("server exited with error", "err", err)
		return
	}
	lg.Sugar().Infow("server exited")
}
