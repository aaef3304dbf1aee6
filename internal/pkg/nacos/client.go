// internal/pkg/nacos/client.go
package nacos

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"orderhub/internal/pkg/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// Client 封装了 Nacos 的命名客户端和配置客户端
type Client struct {
	namingClient naming_client.INamingClient
	configClient config_client.IConfigClient

	groupName string
}

// ServerConfigs 解析 "ip1:port1,ip2:port2" 格式的地址列表
func ServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		parts := strings.Split(addr, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in nacos address: %s", parts[1])
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(parts[0], port))
	}
	if len(serverConfigs) == 0 {
		return nil, fmt.Errorf("no nacos address configured")
	}
	return serverConfigs, nil
}

// NewClient 创建 Nacos 客户端。groupName 为空时使用 DEFAULT_GROUP。
func NewClient(addrs, namespaceID, groupName string) (*Client, error) {
	ctx := context.Background()
	if namespaceID == "" {
		logger.Ctx(ctx).Warn().Msg("⚠️ NACOS_NAMESPACE is not set. Using default public namespace.")
	}
	if groupName == "" {
		groupName = "DEFAULT_GROUP"
	}

	serverConfigs, err := ServerConfigs(addrs)
	if err != nil {
		return nil, err
	}

	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceID),
	)
	param := vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	}

	namingClient, err := clients.NewNamingClient(param)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos naming client: %w", err)
	}
	configClient, err := clients.NewConfigClient(param)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos config client: %w", err)
	}

	logger.Ctx(ctx).Info().Str("addrs", addrs).Msg("✅ Successfully connected to Nacos.")
	return &Client{
		namingClient: namingClient,
		configClient: configClient,
		groupName:    groupName,
	}, nil
}

// GetConfig 读取配置中心里 dataID 对应的内容
func (c *Client) GetConfig(dataID string) (string, error) {
	content, err := c.configClient.GetConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  c.groupName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get nacos config %s: %w", dataID, err)
	}
	return content, nil
}

// Instance 描述一个注册到 Nacos 的服务实例。Metadata 会随实例一起下发给订阅方。
type Instance struct {
	Service  string
	IP       string
	Port     int
	Metadata map[string]string
}

func (i Instance) String() string {
	return fmt.Sprintf("%s@%s:%d", i.Service, i.IP, i.Port)
}

// Register 以临时实例注册，心跳断开后由 Nacos 自动摘除。
func (c *Client) Register(inst Instance) error {
	ok, err := c.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          inst.IP,
		Port:        uint64(inst.Port),
		ServiceName: inst.Service,
		GroupName:   c.groupName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    inst.Metadata,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", inst, err)
	}
	if !ok {
		return fmt.Errorf("register %s: rejected by nacos", inst)
	}
	logger.Ctx(context.Background()).Info().Str("instance", inst.String()).Msg("✅ Registered to Nacos")
	return nil
}

func (c *Client) Deregister(inst Instance) error {
	if _, err := c.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          inst.IP,
		Port:        uint64(inst.Port),
		ServiceName: inst.Service,
		GroupName:   c.groupName,
		Ephemeral:   true,
	}); err != nil {
		return fmt.Errorf("deregister %s: %w", inst, err)
	}
	logger.Ctx(context.Background()).Info().Str("instance", inst.String()).Msg("ℹ️ Deregistered from Nacos")
	return nil
}

// Close 关闭客户端连接
func (c *Client) Close() {
	c.configClient.CloseClient()
	c.namingClient.CloseClient()
}
