package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Settings holds every tunable of the backend. Values come from an optional
// YAML file and are overridden by environment variables.
type Settings struct {
	Port           string   `yaml:"port"`
	DatabaseURL    string   `yaml:"database_url"`
	JWTSecret      string   `yaml:"jwt_secret"`
	LogMode        string   `yaml:"log_mode"`
	CORSOrigins    []string `yaml:"cors_origins"`
	UploadMaxBytes int64    `yaml:"upload_max_bytes"`

	MinIO MinIOSettings `yaml:"minio"`

	ReclusterQueueSize int   `yaml:"recluster_queue_size"`
	ClusterSeed        int64 `yaml:"cluster_seed"`
	ClusterRestarts    int   `yaml:"cluster_restarts"`
}

// MinIOSettings configures raw upload archiving. An empty Endpoint disables it.
type MinIOSettings struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Port:               "8080",
		LogMode:            "dev",
		CORSOrigins:        []string{"*"},
		UploadMaxBytes:     32 << 20,
		MinIO:              MinIOSettings{Bucket: "dataset-uploads"},
		ReclusterQueueSize: 16,
		ClusterSeed:        42,
		ClusterRestarts:    10,
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the environment.
func Load() (Settings, error) {
	_ = godotenv.Load()

	s := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := s.applyEnv(os.LookupEnv); err != nil {
		return s, err
	}
	if s.JWTSecret == "" {
		return s, fmt.Errorf("JWT_SECRET is required")
	}
	return s, nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &s.Port)
	str("DATABASE_URL", &s.DatabaseURL)
	str("JWT_SECRET", &s.JWTSecret)
	str("LOG_MODE", &s.LogMode)
	str("MINIO_ENDPOINT", &s.MinIO.Endpoint)
	str("MINIO_ACCESS_KEY", &s.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &s.MinIO.SecretKey)
	str("MINIO_BUCKET", &s.MinIO.Bucket)

	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		s.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.CORSOrigins = append(s.CORSOrigins, o)
			}
		}
	}
	if v, ok := lookup("MINIO_USE_SSL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MINIO_USE_SSL: %w", err)
		}
		s.MinIO.UseSSL = b
	}

	ints := []struct {
		key string
		set func(int64)
	}{
		{"UPLOAD_MAX_BYTES", func(n int64) { s.UploadMaxBytes = n }},
		{"RECLUSTER_QUEUE_SIZE", func(n int64) { s.ReclusterQueueSize = int(n) }},
		{"CLUSTER_SEED", func(n int64) { s.ClusterSeed = n }},
		{"CLUSTER_RESTARTS", func(n int64) { s.ClusterRestarts = int(n) }},
	}
	for _, it := range ints {
		v, ok := lookup(it.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", it.key, err)
		}
		it.set(n)
	}
	return nil
}

// Config holds the open database handle.
type Config struct {
	Settings Settings
	DB       *gorm.DB
}

// New opens the Postgres connection and migrates the schema.
func New(settings Settings) (*Config, error) {
	if settings.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := gorm.Open(postgres.Open(settings.DatabaseURL), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Config{Settings: settings, DB: db}, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Dataset{}, &Student{}, &Cluster{}, &StudentCluster{}, &ActivityLog{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// Close closes all connections
func (c *Config) Close() {
	if c.DB != nil {
		sqlDB, err := c.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}
