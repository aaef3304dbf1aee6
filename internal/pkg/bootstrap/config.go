// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构，按 App / Infra / 业务分段。
type Config struct {
	App       AppConfig       `yaml:"app"`
	Infra     InfraConfig     `yaml:"infra"`
	Order     OrderConfig     `yaml:"order"`
	Inventory InventoryConfig `yaml:"inventory"`
	Shipping  ShippingConfig  `yaml:"shipping"`
}

type AppConfig struct {
	Name            string        `yaml:"name"`
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type MySQLConfig struct {
	Addr         string        `yaml:"addr"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"` // 逗号分隔，多个地址时使用集群模式
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type NacosConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServerAddrs  string `yaml:"server_addrs"`
	Namespace    string `yaml:"namespace"`
	Group        string `yaml:"group"`
	ConfigDataID string `yaml:"config_data_id"` // 为空时不从配置中心拉取
}

type OrderConfig struct {
	Cache         CacheConfig          `yaml:"cache"`
	Inventory     InventoryRPCConfig   `yaml:"inventory"`
	StatusEvents  StatusConsumerConfig `yaml:"status_events"`
	WriteDeadline time.Duration        `yaml:"write_deadline"`
}

type CacheConfig struct {
	Driver       string        `yaml:"driver"` // redis | memory
	ViewTTL      time.Duration `yaml:"view_ttl"`
	ListViewTTL  time.Duration `yaml:"list_view_ttl"`
	PatchTimeout time.Duration `yaml:"patch_timeout"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
	PatchLock    bool          `yaml:"patch_lock"` // 使用 ZooKeeper 串行化列表视图的读改写
}

type InventoryRPCConfig struct {
	ReserveTopic     string        `yaml:"reserve_topic"`
	AdjustTopic      string        `yaml:"adjust_topic"`
	ReleaseTopic     string        `yaml:"release_topic"`
	ReplyTopicPrefix string        `yaml:"reply_topic_prefix"`
	Timeout          time.Duration `yaml:"timeout"`
}

type StatusConsumerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
	DLT     string `yaml:"dlt"`
}

type InventoryConfig struct {
	GroupID string        `yaml:"group_id"`
	Seed    []SeedProduct `yaml:"seed"`
}

type SeedProduct struct {
	ProductID string `yaml:"product_id"`
	Name      string `yaml:"name"`
	Stock     int    `yaml:"stock"`
}

type ShippingConfig struct {
	// OrderServiceURL 为空时发货前不校验订单状态
	OrderServiceURL string        `yaml:"order_service_url"`
	LookupTimeout   time.Duration `yaml:"lookup_timeout"`
}

// DefaultConfig 返回本地开发可直接使用的默认值。
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:            "order-service",
			Port:            8081,
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{SampleRatio: 1},
			MySQL: MySQLConfig{
				Addr:         "localhost:3306",
				User:         "root",
				Database:     "orderhub",
				MaxOpenConns: 20,
				MaxIdleConns: 10,
				ConnMaxLife:  time.Hour,
				AutoMigrate:  true,
			},
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			Kafka:     KafkaConfig{Brokers: []string{"localhost:9092"}},
			Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}, SessionTimeout: 10 * time.Second},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		},
		Order: OrderConfig{
			Cache: CacheConfig{
				Driver:       "redis",
				ViewTTL:      10 * time.Minute,
				ListViewTTL:  30 * time.Second,
				PatchTimeout: 2 * time.Second,
				BuildTimeout: 5 * time.Second,
			},
			Inventory: InventoryRPCConfig{
				ReserveTopic:     "inventory-reserve",
				AdjustTopic:      "inventory-adjust",
				ReleaseTopic:     "inventory-release",
				ReplyTopicPrefix: "inventory-replies",
				Timeout:          5 * time.Second,
			},
			StatusEvents: StatusConsumerConfig{
				Topic:   "order-status-events",
				GroupID: "order-status-consumer-group",
				DLT:     "order-status-events.dlt",
			},
			WriteDeadline: 10 * time.Second,
		},
		Inventory: InventoryConfig{GroupID: "inventory-service-group"},
		Shipping:  ShippingConfig{LookupTimeout: 3 * time.Second},
	}
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置，未加载时返回默认值。
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

func setCurrentConfig(c *Config) {
	current.Store(c)
}

// LoadConfig 按 默认值 -> YAML 文件 -> 环境变量 的顺序加载配置。
// path 为空或文件不存在时跳过文件这一层。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := MergeYAML(cfg, data); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// MergeYAML 把 YAML 文档覆盖到 cfg 上，文档中未出现的字段保持原值。
func MergeYAML(cfg *Config, data []byte) error {
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnv 用环境变量覆盖部署相关的配置项。
func ApplyEnv(cfg *Config) {
	if v, ok := lookupEnv("SERVICE_NAME"); ok {
		cfg.App.Name = v
	}
	if v, ok := lookupEnv("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = port
		}
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.App.LogLevel = v
	}
	if v, ok := lookupEnv("JAEGER_ENDPOINT"); ok {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v, ok := lookupEnv("MYSQL_ADDR"); ok {
		cfg.Infra.MySQL.Addr = v
	}
	if v, ok := lookupEnv("MYSQL_USER"); ok {
		cfg.Infra.MySQL.User = v
	}
	if v, ok := lookupEnv("MYSQL_PASSWORD"); ok {
		cfg.Infra.MySQL.Password = v
	}
	if v, ok := lookupEnv("MYSQL_DATABASE"); ok {
		cfg.Infra.MySQL.Database = v
	}
	if v, ok := lookupEnv("REDIS_ADDRS"); ok {
		cfg.Infra.Redis.Addrs = v
	}
	if v, ok := lookupEnv("KAFKA_BROKERS"); ok {
		cfg.Infra.Kafka.Brokers = splitCSV(v)
	}
	if v, ok := lookupEnv("ZOOKEEPER_SERVERS"); ok {
		cfg.Infra.Zookeeper.Servers = splitCSV(v)
	}
	if v, ok := lookupEnv("NACOS_SERVER_ADDRS"); ok {
		cfg.Infra.Nacos.ServerAddrs = v
		cfg.Infra.Nacos.Enabled = true
	}
	if v, ok := lookupEnv("NACOS_NAMESPACE"); ok {
		cfg.Infra.Nacos.Namespace = v
	}
	if v, ok := lookupEnv("NACOS_GROUP"); ok {
		cfg.Infra.Nacos.Group = v
	}
	if v, ok := lookupEnv("CACHE_DRIVER"); ok {
		cfg.Order.Cache.Driver = v
	}
	if v, ok := lookupEnv("ORDER_SERVICE_URL"); ok {
		cfg.Shipping.OrderServiceURL = v
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
