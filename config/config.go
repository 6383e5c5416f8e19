package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	CORS      CORSConfig      `yaml:"cors"`
	Artifact  ArtifactConfig  `yaml:"artifact"`
	Training  TrainingConfig  `yaml:"training"`
	Simulator SimulatorConfig `yaml:"simulator"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Port         int  `yaml:"port"`
	AuthRequired bool `yaml:"auth_required"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// GetURL is the same database as a postgres:// URL, the form pgx expects.
func (d DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// CacheTTLSeconds bounds how long a cached prediction is reused.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiryHours int    `yaml:"expiry_hours"`
}

type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins"`
}

// ArtifactConfig selects where the trained model lives. A non-empty
// S3Bucket wins over Path.
type ArtifactConfig struct {
	Path        string `yaml:"path"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Key       string `yaml:"s3_key"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
}

type TrainingConfig struct {
	DatasetPath     string  `yaml:"dataset_path"`
	DefaultRecords  int     `yaml:"default_records"`
	TestSize        float64 `yaml:"test_size"`
	Seed            int     `yaml:"seed"`
	Trees           int     `yaml:"trees"`
	MaxDepth        int     `yaml:"max_depth"`
	MinSamplesSplit int     `yaml:"min_samples_split"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf"`
	Workers         int     `yaml:"workers"`
	ModelVersion    string  `yaml:"model_version"`
	MetricsPort     int     `yaml:"metrics_port"`
}

type SimulatorConfig struct {
	Records    int    `yaml:"records"`
	Seed       int    `yaml:"seed"`
	OutputPath string `yaml:"output_path"`
	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`
	// FeedToDatabase also upserts the generated observations into Postgres.
	FeedToDatabase bool `yaml:"feed_to_database"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			AuthRequired: true,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "cityflow",
			Password: "cityflow_dev_password",
			Name:     "cityflow",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Host:            "localhost",
			Port:            6379,
			CacheTTLSeconds: 300,
		},
		JWT: JWTConfig{
			Secret:      "cityflow_dev_jwt_secret",
			ExpiryHours: 24,
		},
		CORS: CORSConfig{
			AllowedOrigins: "*",
		},
		Artifact: ArtifactConfig{
			Path:  "data/traffic_model.bson",
			S3Key: "models/traffic_model.bson",
		},
		Training: TrainingConfig{
			DatasetPath:     "data/traffic_data.csv",
			DefaultRecords:  5000,
			TestSize:        0.2,
			Seed:            42,
			Trees:           100,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
			ModelVersion:    "rf-v1",
			MetricsPort:     9101,
		},
		Simulator: SimulatorConfig{
			Records:    5000,
			Seed:       42,
			OutputPath: "data/traffic_data.csv",
			MQTTTopic:  "cityflow/observations",
		},
		LogLevel: "info",
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by CONFIG_FILE (if any), then environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MinTrees is the smallest forest a production training run may persist.
const MinTrees = 100

func (c *Config) validate() error {
	if c.Training.Trees < MinTrees {
		return fmt.Errorf("invalid training trees %d: need at least %d", c.Training.Trees, MinTrees)
	}
	return nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	var err error

	ints := []struct {
		key string
		dst *int
	}{
		{"SERVER_PORT", &c.Server.Port},
		{"DB_PORT", &c.Database.Port},
		{"REDIS_PORT", &c.Redis.Port},
		{"REDIS_DB", &c.Redis.DB},
		{"REDIS_CACHE_TTL_SECONDS", &c.Redis.CacheTTLSeconds},
		{"JWT_EXPIRY_HOURS", &c.JWT.ExpiryHours},
		{"TRAIN_DEFAULT_RECORDS", &c.Training.DefaultRecords},
		{"TRAIN_SEED", &c.Training.Seed},
		{"TRAIN_TREES", &c.Training.Trees},
		{"TRAIN_MAX_DEPTH", &c.Training.MaxDepth},
		{"TRAIN_MIN_SAMPLES_SPLIT", &c.Training.MinSamplesSplit},
		{"TRAIN_MIN_SAMPLES_LEAF", &c.Training.MinSamplesLeaf},
		{"TRAIN_WORKERS", &c.Training.Workers},
		{"TRAIN_METRICS_PORT", &c.Training.MetricsPort},
		{"SIM_RECORDS", &c.Simulator.Records},
		{"SIM_SEED", &c.Simulator.Seed},
	}
	for _, v := range ints {
		if *v.dst, err = getIntEnv(v.key, *v.dst); err != nil {
			return fmt.Errorf("invalid %s: %w", v.key, err)
		}
	}

	if c.Server.AuthRequired, err = getBoolEnv("AUTH_REQUIRED", c.Server.AuthRequired); err != nil {
		return fmt.Errorf("invalid AUTH_REQUIRED: %w", err)
	}
	if c.Simulator.FeedToDatabase, err = getBoolEnv("SIM_FEED_DATABASE", c.Simulator.FeedToDatabase); err != nil {
		return fmt.Errorf("invalid SIM_FEED_DATABASE: %w", err)
	}
	if c.Training.TestSize, err = getFloatEnv("TRAIN_TEST_SIZE", c.Training.TestSize); err != nil {
		return fmt.Errorf("invalid TRAIN_TEST_SIZE: %w", err)
	}

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	c.JWT.Secret = getEnv("JWT_SECRET", c.JWT.Secret)
	c.CORS.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", c.CORS.AllowedOrigins)

	c.Artifact.Path = getEnv("MODEL_PATH", c.Artifact.Path)
	c.Artifact.S3Endpoint = getEnv("MODEL_S3_ENDPOINT", c.Artifact.S3Endpoint)
	c.Artifact.S3Region = getEnv("MODEL_S3_REGION", c.Artifact.S3Region)
	c.Artifact.S3Bucket = getEnv("MODEL_S3_BUCKET", c.Artifact.S3Bucket)
	c.Artifact.S3Key = getEnv("MODEL_S3_KEY", c.Artifact.S3Key)
	c.Artifact.S3AccessKey = getEnv("MODEL_S3_ACCESS_KEY", c.Artifact.S3AccessKey)
	c.Artifact.S3SecretKey = getEnv("MODEL_S3_SECRET_KEY", c.Artifact.S3SecretKey)

	c.Training.DatasetPath = getEnv("DATASET_PATH", c.Training.DatasetPath)
	c.Training.ModelVersion = getEnv("MODEL_VERSION", c.Training.ModelVersion)

	c.Simulator.OutputPath = getEnv("DATASET_PATH", c.Simulator.OutputPath)
	c.Simulator.MQTTBroker = getEnv("MQTT_BROKER", c.Simulator.MQTTBroker)
	c.Simulator.MQTTTopic = getEnv("MQTT_TOPIC", c.Simulator.MQTTTopic)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	return nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func getBoolEnv(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseBool(value)
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(value, 64)
}

// ConfigureLogging applies LogLevel to the global logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.0000",
	})
	return nil
}
