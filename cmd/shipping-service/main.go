package main

import (
	"context"
	"net/http"

	"orderhub/internal/pkg/bootstrap"
	"orderhub/internal/pkg/httpclient"
	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/metrics"
	"orderhub/internal/pkg/mq"
	"orderhub/internal/service/shipping"

	"go.opentelemetry.io/otel"
)

const (
	serviceName = "shipping-service"
)

func main() {
	ctx := context.Background()
	cfg, err := bootstrap.Init("configs/shipping-service.yaml")
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to load configuration")
	}

	topic := cfg.Order.StatusEvents.Topic
	if err := mq.EnsureTopics(ctx, cfg.Infra.Kafka.Brokers, topic); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("could not ensure status topic, relying on auto creation")
	}
	dispatcher := shipping.NewDispatcher(mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, topic), otel.Tracer(serviceName))
	if cfg.Shipping.OrderServiceURL != "" {
		client := httpclient.NewClient(otel.Tracer(serviceName), cfg.Shipping.LookupTimeout)
		dispatcher.WithOrderLookup(shipping.NewHTTPOrderLookup(client, cfg.Shipping.OrderServiceURL))
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("GET /metrics", metrics.Handler())
			dispatcher.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				if err := dispatcher.Close(); err != nil {
					logger.Ctx(ctx).Error().Err(err).Msg("Failed to close status writer")
				}
			},
		},
	})
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("shipping service exited")
	}
}
