// cmd/inventory-service/main.go
package main

import (
	"context"
	"net/http"

	"orderhub/internal/pkg/bootstrap"
	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/metrics"
	"orderhub/internal/pkg/mq"
	"orderhub/internal/pkg/redis"
	"orderhub/internal/service/inventory"

	"go.opentelemetry.io/otel"
)

const (
	serviceName = "inventory-service"
)

func main() {
	ctx := context.Background()
	cfg, err := bootstrap.Init("configs/inventory-service.yaml")
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to load configuration")
	}
	brokers := cfg.Infra.Kafka.Brokers

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to initialize redis client")
	}
	stock, err := inventory.NewStockStore(redisClient)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to initialize stock store")
	}

	// 用配置中的商品初始化库存（覆盖已有值）
	for _, p := range cfg.Inventory.Seed {
		if err := stock.PrepareProduct(ctx, p.ProductID, p.Name, p.Stock); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("product_id", p.ProductID).Msg("could not seed product")
			continue
		}
		logger.Ctx(ctx).Info().Str("product_id", p.ProductID).Int("stock", p.Stock).Msg("product seeded")
	}

	topics := inventory.Topics{
		Reserve: cfg.Order.Inventory.ReserveTopic,
		Adjust:  cfg.Order.Inventory.AdjustTopic,
		Release: cfg.Order.Inventory.ReleaseTopic,
	}
	if err := mq.EnsureTopics(ctx, brokers, topics.Reserve, topics.Adjust, topics.Release); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("could not ensure request topics, relying on auto creation")
	}

	responder := inventory.NewResponder(
		mq.NewGroupReader(brokers, cfg.Inventory.GroupID, topics.Reserve, topics.Adjust, topics.Release),
		mq.NewKafkaWriter(brokers, ""),
		topics,
		stock,
		otel.Tracer(serviceName),
	)

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("GET /metrics", metrics.Handler())
		},
		Workers: []bootstrap.Worker{responder.Run},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) { _ = redisClient.Close() },
			responder.Stop,
		},
	})
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("inventory service exited")
	}
}
