package lendflow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	// Database drivers for the sqlite and postgres backends.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Config selects the storage backend and tunes the runtime. Values come
// from an optional config file plus LENDFLOW_* environment variables,
// with working defaults for a fully in-memory assistant.
type Config struct {
	// StoreBackend is one of "memory", "sqlite", "postgres", "redis" or
	// "mongo".
	StoreBackend string `mapstructure:"store_backend"`

	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`

	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`

	MongoURI        string `mapstructure:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection"`

	DispatchTimeout     time.Duration `mapstructure:"dispatch_timeout"`
	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts"`
	RetryInitialBackoff time.Duration `mapstructure:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `mapstructure:"retry_max_backoff"`

	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ClaimTTL            time.Duration `mapstructure:"claim_ttl"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	FeeCap              float64       `mapstructure:"fee_cap"`
}

// LoadConfig reads configuration from the given file (optional, "" skips
// it) and from LENDFLOW_* environment variables, for example
// LENDFLOW_STORE_BACKEND=postgres.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("store_backend", "memory")
	v.SetDefault("sqlite_path", "lendflow.db")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "lendflow:")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "lendflow")
	v.SetDefault("mongo_collection", "conversations")
	v.SetDefault("dispatch_timeout", 10*time.Second)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_initial_backoff", 200*time.Millisecond)
	v.SetDefault("retry_max_backoff", 5*time.Second)
	v.SetDefault("poll_interval", 500*time.Millisecond)
	v.SetDefault("claim_ttl", 2*time.Minute)
	v.SetDefault("confidence_threshold", 0.5)
	v.SetDefault("fee_cap", 0.0)

	v.SetEnvPrefix("LENDFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// NewAssistantFromConfig builds an Assistant with the configured storage
// backend and the default collaborators. Resources opened here (database
// handles, client connections) are released by Assistant.Close.
func NewAssistantFromConfig(ctx context.Context, cfg Config) (*Assistant, error) {
	opts := Options{
		DispatchTimeout: cfg.DispatchTimeout,
		Retry: RetryPolicy{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryInitialBackoff,
			MaxBackoff:     cfg.RetryMaxBackoff,
		},
		PollInterval:        cfg.PollInterval,
		ClaimTTL:            cfg.ClaimTTL,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		FeeCap:              cfg.FeeCap,
	}
	var closers []func() error
	fail := func(err error) (*Assistant, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	switch strings.ToLower(cfg.StoreBackend) {
	case "", "memory":
		// Options default to in-memory stores.

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		closers = append(closers, db.Close)
		if opts.Store, err = NewSQLiteStore(db); err != nil {
			return fail(err)
		}
		if opts.Blobs, err = NewSQLiteBlobStore(db); err != nil {
			return fail(err)
		}

	case "postgres":
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, db.Close)
		if opts.Store, err = NewPostgresStore(db); err != nil {
			return fail(err)
		}
		if opts.Blobs, err = NewPostgresBlobStore(db); err != nil {
			return fail(err)
		}

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, client.Close)
		opts.Store = NewRedisStore(client, cfg.RedisPrefix)
		opts.Blobs = NewRedisBlobStore(client, cfg.RedisPrefix)

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		closers = append(closers, func() error {
			return client.Disconnect(context.Background())
		})
		opts.Store = NewMongoStore(client, cfg.MongoDatabase, cfg.MongoCollection)
		opts.Blobs = NewMongoBlobStore(client, cfg.MongoDatabase, "blobs")

	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", ErrValidation, cfg.StoreBackend)
	}

	a, err := NewAssistant(opts)
	if err != nil {
		return fail(err)
	}
	a.closers = closers
	return a, nil
}
