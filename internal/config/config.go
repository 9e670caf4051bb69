package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
	StoreMongo  = "mongo"
)

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"httpAddr"`
	GRPCAddr        string        `mapstructure:"grpcAddr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	MaxIdleConns int    `mapstructure:"maxIdleConns"`
}

type MongoConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"dbName"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	PoolSize int    `mapstructure:"poolSize"`
}

type ReceiptConfig struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	RetryBaseDelay time.Duration `mapstructure:"retryBaseDelay"`
	IdempotencyTTL time.Duration `mapstructure:"idempotencyTTL"`
}

type AuditConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queueSize"`
}

type InventoryConfig struct {
	DefaultReorderLevel int `mapstructure:"defaultReorderLevel"`
}

type LogConfig struct {
	Service string `mapstructure:"service"`
	Env     string `mapstructure:"env"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Receipt   ReceiptConfig   `mapstructure:"receipt"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Log       LogConfig       `mapstructure:"log"`
}

// Load reads config.yaml from path when present and overrides it with
// environment variables. A .env file in the working directory is loaded first.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreMySQL, StoreMongo:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Receipt.MaxAttempts < 1 {
		return fmt.Errorf("receipt.maxAttempts must be at least 1")
	}
	if c.Audit.Workers < 1 || c.Audit.QueueSize < 1 {
		return fmt.Errorf("audit workers and queue size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.httpAddr", ":8080")
	v.SetDefault("server.grpcAddr", ":50051")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("mysql.dsn", "root:root@tcp(localhost:3306)/warehouse?parseTime=true")
	v.SetDefault("mysql.maxOpenConns", 50)
	v.SetDefault("mysql.maxIdleConns", 25)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("mongo.dbName", "warehouse")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.poolSize", 100)
	v.SetDefault("receipt.maxAttempts", 3)
	v.SetDefault("receipt.retryBaseDelay", 20*time.Millisecond)
	v.SetDefault("receipt.idempotencyTTL", 24*time.Hour)
	v.SetDefault("audit.workers", 4)
	v.SetDefault("audit.queueSize", 1000)
	v.SetDefault("inventory.defaultReorderLevel", 10)
	v.SetDefault("log.service", "warehouse-tracker")
	v.SetDefault("log.env", "development")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.httpAddr", "HTTP_ADDR")
	v.BindEnv("server.grpcAddr", "GRPC_ADDR")
	v.BindEnv("server.shutdownTimeout", "SHUTDOWN_TIMEOUT")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("mysql.dsn", "MYSQL_DSN")
	v.BindEnv("mysql.maxOpenConns", "MYSQL_MAX_OPEN_CONNS")
	v.BindEnv("mysql.maxIdleConns", "MYSQL_MAX_IDLE_CONNS")
	v.BindEnv("mongo.uri", "MONGO_URI")
	v.BindEnv("mongo.dbName", "MONGO_DBNAME")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.poolSize", "REDIS_POOL_SIZE")
	v.BindEnv("receipt.maxAttempts", "RECEIPT_MAX_ATTEMPTS")
	v.BindEnv("receipt.retryBaseDelay", "RECEIPT_RETRY_BASE_DELAY")
	v.BindEnv("receipt.idempotencyTTL", "RECEIPT_IDEMPOTENCY_TTL")
	v.BindEnv("audit.workers", "AUDIT_WORKERS")
	v.BindEnv("audit.queueSize", "AUDIT_QUEUE_SIZE")
	v.BindEnv("inventory.defaultReorderLevel", "DEFAULT_REORDER_LEVEL")
	v.BindEnv("log.service", "SERVICE_NAME")
	v.BindEnv("log.env", "APP_ENV")
}
