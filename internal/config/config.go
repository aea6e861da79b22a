package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/BuddyCodez/SpeakSpace/pkg/config"
	"github.com/BuddyCodez/SpeakSpace/pkg/database"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
	"github.com/BuddyCodez/SpeakSpace/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  database.Config
	Redis     RedisConfig
	Messages  MessagesConfig
	Kafka     KafkaConfig
	Storage   StorageConfig
	Presence  PresenceConfig
	History   HistoryConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessDuration time.Duration `mapstructure:"access_duration"`
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

// MessagesConfig selects the message store backend. "gorm" keeps messages
// in the relational store; "cassandra" moves them to a wide-column table.
type MessagesConfig struct {
	Store     string
	Cassandra CassandraConfig
}

type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

type StorageConfig struct {
	Backend string // local, s3
	Local   storage.LocalConfig
	S3      storage.S3Config
}

type PresenceConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type HistoryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load(pkgconfig.GetEnv("CONFIG_PATH", "./config"), "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "speakspace")
	v.SetDefault("auth.access_duration", "24h")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "speakspace.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("messages.store", "gorm")
	v.SetDefault("messages.cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("messages.cassandra.keyspace", "speakspace")
	v.SetDefault("messages.cassandra.consistency", "quorum")
	v.SetDefault("messages.cassandra.connect_timeout", "10s")
	v.SetDefault("messages.cassandra.timeout", "5s")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "session-events")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_path", "./data/media")
	v.SetDefault("storage.local.base_url", "/media")
	v.SetDefault("presence.ttl", "3s")
	v.SetDefault("presence.sweep_interval", "3s")
	v.SetDefault("history.cache_ttl", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "speakspace")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("messages.store", "MESSAGE_STORE")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.AccessDuration = parseDuration(v, "auth.access_duration", 24*time.Hour)
	cfg.Messages.Cassandra.ConnectTimeout = parseDuration(v, "messages.cassandra.connect_timeout", 10*time.Second)
	cfg.Messages.Cassandra.Timeout = parseDuration(v, "messages.cassandra.timeout", 5*time.Second)
	cfg.Presence.TTL = parseDuration(v, "presence.ttl", 3*time.Second)
	cfg.Presence.SweepInterval = parseDuration(v, "presence.sweep_interval", 3*time.Second)
	cfg.History.CacheTTL = parseDuration(v, "history.cache_ttl", 30*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
