package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

const envPrefix = "PPRT_"

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type AppConfig struct {
	NodeId    string          `toml:"node_id"` // 节点ID
	Server    ServerConfig    `toml:"server"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Auth      AuthConfig      `toml:"auth"`
	Registry  RegistryConfig  `toml:"registry"`
	Redis     RedisConfig     `toml:"redis"`
	Nats      NatsConfig      `toml:"nats"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`      // http 启动端口
	GrpcPort       int      `toml:"grpc_port"` // 0 disables the health server
	MaxConnections int      `toml:"max_connections"`
	ShutdownGrace  Duration `toml:"shutdown_grace"`
	InternalSecret string   `toml:"internal_secret"` // bearer for /internal/v1
}

type WebSocketConfig struct {
	ReadBufferSize  int      `toml:"read_buffer_size"`
	WriteBufferSize int      `toml:"write_buffer_size"`
	MaxMessageSize  int64    `toml:"max_message_size"`
	SendQueueSize   int      `toml:"send_queue_size"`
	WriteTimeout    Duration `toml:"write_timeout"`
	PongTimeout     Duration `toml:"pong_timeout"`
	PingInterval    Duration `toml:"ping_interval"`
	AllowedOrigins  []string `toml:"allowed_origins"` // empty or "*" allows any
}

type AuthConfig struct {
	JwtSecret         string   `toml:"jwt_secret"`
	Algorithm         string   `toml:"algorithm"`
	TokenTTL          Duration `toml:"token_ttl"`
	AllowLegacyUserID bool     `toml:"allow_legacy_user_id"`
	VerifyTimeout     Duration `toml:"verify_timeout"`
}

type RegistryConfig struct {
	MaxPerUser int `toml:"max_per_user"` // <=0 不限制
}

type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	PresenceTTL  Duration `toml:"presence_ttl"`
	RefreshEvery Duration `toml:"refresh_every"`
}

type NatsConfig struct {
	Enabled       bool     `toml:"enabled"`
	Servers       []string `toml:"servers"`
	Name          string   `toml:"name"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SubjectPrefix string   `toml:"subject_prefix"`
	Queue         string   `toml:"queue"`
	ReconnectWait Duration `toml:"reconnect_wait"`
}

type KafkaConfig struct {
	Enabled     bool     `toml:"enabled"`
	Brokers     []string `toml:"brokers"`
	GroupId     string   `toml:"group_id"` // kafka group 节点
	TopicPrefix string   `toml:"topic_prefix"`
	Version     string   `toml:"version"`

	// EnsureTopics creates missing command topics at startup.
	EnsureTopics      bool  `toml:"ensure_topics"`
	Partitions        int32 `toml:"partitions"`
	ReplicationFactor int16 `toml:"replication_factor"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func Default() *AppConfig {
	return &AppConfig{
		NodeId: "realtime_01",
		Server: ServerConfig{
			Port:           8080,
			GrpcPort:       50052,
			MaxConnections: 0,
			ShutdownGrace:  Duration{5 * time.Second},
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			MaxMessageSize:  64 * 1024,
			SendQueueSize:   256,
			WriteTimeout:    Duration{5 * time.Second},
			PongTimeout:     Duration{60 * time.Second},
			PingInterval:    Duration{25 * time.Second},
		},
		Auth: AuthConfig{
			Algorithm:     "HS256",
			TokenTTL:      Duration{24 * time.Hour},
			VerifyTimeout: Duration{3 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "127.0.0.1:6379",
			PoolSize:     10,
			PresenceTTL:  Duration{2 * time.Minute},
			RefreshEvery: Duration{time.Minute},
		},
		Nats: NatsConfig{
			Servers:       []string{"nats://127.0.0.1:4222"},
			Name:          "pp-realtime",
			SubjectPrefix: "realtime",
			Queue:         "realtime-gateway",
			ReconnectWait: Duration{500 * time.Millisecond},
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"127.0.0.1:9092"},
			GroupId:           "realtime-gateway",
			TopicPrefix:       "realtime",
			Version:           "2.1.0",
			Partitions:        3,
			ReplicationFactor: 1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the TOML file at path on top of the defaults. A missing file is
// not an error. Environment overrides are applied last.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.Wrap(err, "reading config file")
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, "unmarshaling config")
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *AppConfig) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = splitList(v)
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "env %s%s", envPrefix, name)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "env %s%s", envPrefix, name)
		}
		*dst = b
		return nil
	}

	str("NODE_ID", &c.NodeId)
	str("JWT_SECRET", &c.Auth.JwtSecret)
	str("INTERNAL_SECRET", &c.Server.InternalSecret)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("LOG_LEVEL", &c.Log.Level)
	list("NATS_SERVERS", &c.Nats.Servers)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)

	for _, f := range []func() error{
		func() error { return num("PORT", &c.Server.Port) },
		func() error { return num("GRPC_PORT", &c.Server.GrpcPort) },
		func() error { return flag("REDIS_ENABLED", &c.Redis.Enabled) },
		func() error { return flag("NATS_ENABLED", &c.Nats.Enabled) },
		func() error { return flag("KAFKA_ENABLED", &c.Kafka.Enabled) },
		func() error { return flag("ALLOW_LEGACY_USER_ID", &c.Auth.AllowLegacyUserID) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

func (c *AppConfig) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Auth.JwtSecret == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if c.WebSocket.SendQueueSize <= 0 {
		problems = append(problems, "websocket.send_queue_size must be positive")
	}
	if c.WebSocket.PingInterval.Duration >= c.WebSocket.PongTimeout.Duration {
		problems = append(problems, "websocket.ping_interval must be shorter than pong_timeout")
	}
	if c.Nats.Enabled && len(c.Nats.Servers) == 0 {
		problems = append(problems, "nats.servers is required when nats is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers is required when kafka is enabled")
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
