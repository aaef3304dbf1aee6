// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"orderhub/internal/pkg/logger"
	"orderhub/internal/pkg/nacos"
	"orderhub/internal/pkg/tracing"
	"orderhub/internal/pkg/utils"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
}

// Worker 是随服务一起运行的后台任务（消费者、RPC 回复分发等），ctx 结束时应当返回。
type Worker func(ctx context.Context) error

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	Workers          []Worker
	OnShutdown       []func(ctx context.Context) // 按注册的逆序执行
}

// Init 加载配置并初始化日志。CONFIG_FILE 指定 YAML 文件路径；
// 启用 Nacos 且配置了 config_data_id 时，再用配置中心的内容覆盖一次，最后应用环境变量。
func Init(defaultFile string) (*Config, error) {
	path := defaultFile
	if v, ok := lookupEnv("CONFIG_FILE"); ok {
		path = v
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.App.LogLevel, cfg.App.Name)

	if cfg.Infra.Nacos.Enabled && cfg.Infra.Nacos.ConfigDataID != "" {
		if err := mergeRemoteConfig(cfg); err != nil {
			return nil, err
		}
		ApplyEnv(cfg)
		logger.Init(cfg.App.LogLevel, cfg.App.Name)
	}

	setCurrentConfig(cfg)
	logger.Ctx(context.Background()).Info().
		Str("config_file", path).
		Bool("nacos", cfg.Infra.Nacos.Enabled).
		Msg("configuration loaded")
	return cfg, nil
}

func mergeRemoteConfig(cfg *Config) error {
	client, err := nacos.NewClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return errors.Wrap(err, "connect nacos for config")
	}
	defer client.Close()

	content, err := client.GetConfig(cfg.Infra.Nacos.ConfigDataID)
	if err != nil {
		return err
	}
	if content == "" {
		logger.Ctx(context.Background()).Warn().Str("data_id", cfg.Infra.Nacos.ConfigDataID).Msg("remote config is empty, keeping local values")
		return nil
	}
	return errors.Wrap(MergeYAML(cfg, []byte(content)), "parse remote config")
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
// 阻塞直到收到退出信号或任一 Worker / HTTP Server 出错。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()
	baseCtx := context.Background()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return errors.Wrap(err, "initialize tracer provider")
	}

	// 2. 服务注册 (可选)
	var (
		naming   *nacos.Client
		instance nacos.Instance
	)
	if cfg.Infra.Nacos.Enabled {
		naming, err = nacos.NewClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return errors.Wrap(err, "initialize nacos client")
		}
		ip, err := utils.GetOutboundIP()
		if err != nil {
			return errors.Wrap(err, "get outbound IP address")
		}
		instance = nacos.Instance{
			Service:  info.ServiceName,
			IP:       ip,
			Port:     info.Port,
			Metadata: map[string]string{"metrics": "/metrics", "health": "/healthz"},
		}
		if err = naming.Register(instance); err != nil {
			return err
		}
	}

	// 3. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg, Nacos: naming})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(baseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Ctx(gctx).Info().Msgf("🚀 %s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, w := range info.Workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	// 4. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		logger.Ctx(baseCtx).Info().Msgf("Shutting down service %s...", info.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(baseCtx, cfg.App.ShutdownTimeout)
		defer cancel()

		// a. 从 Nacos 注销服务
		if naming != nil {
			if err := naming.Deregister(instance); err != nil {
				logger.Ctx(shutdownCtx).Error().Err(err).Msg("Error deregistering from Nacos")
			}
			naming.Close()
		}

		// b. 关闭 HTTP 服务器
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Ctx(shutdownCtx).Error().Err(err).Msg("Error shutting down http server")
		} else {
			logger.Ctx(shutdownCtx).Info().Msg("HTTP server shut down.")
		}

		// c. 业务组件清理，后进先出
		for i := len(info.OnShutdown) - 1; i >= 0; i-- {
			info.OnShutdown[i](shutdownCtx)
		}

		// d. 最后关闭 Tracer Provider，确保清理阶段产生的 span 也能发送出去
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Ctx(shutdownCtx).Error().Err(err).Msg("Error shutting down tracer provider")
		} else {
			logger.Ctx(shutdownCtx).Info().Msg("Tracer provider shut down.")
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		logger.Ctx(baseCtx).Error().Err(err).Msgf("Service %s stopped with error", info.ServiceName)
		return err
	}
	logger.Ctx(baseCtx).Info().Msgf("👋 Service %s gracefully shut down.", info.ServiceName)
	return nil
}
