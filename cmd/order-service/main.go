// cmd/order-service/main.go
package main

import (
	"context"

	"orderhub/internal/pkg/bootstrap"
	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/metrics"
	"orderhub/internal/pkg/mq"
	"orderhub/internal/pkg/redis"
	"orderhub/internal/pkg/zookeeper"
	"orderhub/internal/service/order/application"
	"orderhub/internal/service/order/domain/port"
	"orderhub/internal/service/order/infrastructure"
	"orderhub/internal/service/order/infrastructure/adapter"
	"orderhub/internal/service/order/interfaces"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

const (
	serviceName = "order-service"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	ctx := context.Background()
	cfg, err := bootstrap.Init("configs/order-service.yaml")
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to load configuration")
	}

	tracer := otel.Tracer(serviceName)
	m := metrics.New(nil)
	brokers := cfg.Infra.Kafka.Brokers

	var (
		workers    []bootstrap.Worker
		onShutdown []func(ctx context.Context)
	)

	// 1. 关系库
	db, err := infrastructure.OpenMySQL(ctx, cfg.Infra.MySQL)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to connect mysql")
	}
	onShutdown = append(onShutdown, func(ctx context.Context) {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		logger.Ctx(ctx).Info().Msg("MySQL connection closed.")
	})

	// 2. 读模型缓存
	var cache port.ViewCache
	switch cfg.Order.Cache.Driver {
	case "memory":
		logger.Ctx(ctx).Warn().Msg("⚠️ Using in-process view cache, views are not shared between instances.")
		cache = infrastructure.NewMemoryViewCache()
	default:
		redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			logger.Ctx(ctx).Fatal().Err(err).Msg("failed to initialize redis client")
		}
		cache = infrastructure.NewRedisViewCache(redisClient)
		onShutdown = append(onShutdown, func(ctx context.Context) { _ = redisClient.Close() })
	}

	// 3. 列表视图修补锁 (可选)
	var locker port.ViewLocker
	if cfg.Order.Cache.PatchLock {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			logger.Ctx(ctx).Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		locker = adapter.NewZookeeperViewLocker(conn)
		onShutdown = append(onShutdown, func(ctx context.Context) { conn.Close() })
	}

	// 4. 库存 RPC：每个实例一个私有应答 topic，启动时创建，关停时删除
	replyTopic := cfg.Order.Inventory.ReplyTopicPrefix + "." + uuid.New().String()
	if err := mq.EnsureTopics(ctx, brokers, replyTopic); err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Str("topic", replyTopic).Msg("failed to create reply topic")
	}
	replyReader, err := mq.NewReplyReader(brokers, replyTopic)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to open reply reader")
	}
	rpc := mq.NewRPCClient(mq.NewKafkaWriter(brokers, ""), replyReader, replyTopic, cfg.Order.Inventory.Timeout)
	rpc.OnOrphanReply(m.OrphanReply)
	if err := rpc.Start(ctx); err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to start rpc client")
	}
	onShutdown = append(onShutdown, func(ctx context.Context) {
		rpc.Stop(ctx)
		if err := mq.DeleteTopics(ctx, brokers, replyTopic); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("topic", replyTopic).Msg("failed to delete reply topic")
		}
	})
	inventory := adapter.NewInventoryKafkaAdapter(rpc, adapter.InventoryTopics{
		Reserve: cfg.Order.Inventory.ReserveTopic,
		Adjust:  cfg.Order.Inventory.AdjustTopic,
		Release: cfg.Order.Inventory.ReleaseTopic,
	}, m)

	// 5. 应用服务
	views := application.NewReadModel(cache, application.ReadModelOptions{
		ViewTTL:      cfg.Order.Cache.ViewTTL,
		ListViewTTL:  cfg.Order.Cache.ListViewTTL,
		PatchTimeout: cfg.Order.Cache.PatchTimeout,
		BuildTimeout: cfg.Order.Cache.BuildTimeout,
		Locker:       locker,
		Metrics:      m,
	})
	orderRepo := infrastructure.NewGormOrderRepository(db)
	orderService := application.NewOrderService(orderRepo, views, tracer)
	productService := application.NewOrderProductService(
		orderRepo,
		infrastructure.NewGormOrderProductRepository(db),
		inventory,
		views,
		tracer,
	)
	handler := interfaces.NewOrderHandler(orderService, productService, m).WithRequestTimeout(cfg.Order.WriteDeadline)

	// 6. 订单状态事件消费者 + 死信 (可选)
	if ev := cfg.Order.StatusEvents; ev.Enabled {
		failure := mq.NewFailureHandler(mq.NewKafkaWriter(brokers, ev.DLT))
		consumer := interfaces.NewStatusConsumerAdapter(mq.NewKafkaReader(brokers, ev.Topic, ev.GroupID), ev.Topic, orderService, failure)
		dltConsumer := interfaces.NewDeadLetterConsumer(mq.NewKafkaReader(brokers, ev.DLT, ev.GroupID+"-dlt"), ev.DLT, m)

		workers = append(workers, consumer.Run, dltConsumer.Run)
		onShutdown = append(onShutdown,
			func(ctx context.Context) { _ = failure.Close() },
			dltConsumer.Stop,
			consumer.Stop,
		)
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Workers:    workers,
		OnShutdown: onShutdown,
	})
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("order service exited")
	}
}
