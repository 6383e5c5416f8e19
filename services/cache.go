package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cityflow/traffic-classifier/config"
	"cityflow/traffic-classifier/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "services")

// PredictionChannel carries every served prediction to live subscribers.
const PredictionChannel = "cityflow:predictions"

type CacheService struct {
	client *redis.Client
}

func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Retry up to 10 times (covers sidecar startup delay)
	var lastErr error
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client}, nil
		}
		log.Warnf("redis ping attempt %d/10 failed: %v", i+1, lastErr)
		time.Sleep(2 * time.Second)
	}

	client.Close()
	return &CacheService{client: nil}, fmt.Errorf("redis ping failed after 10 attempts: %w", lastErr)
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

// Get decodes the value at key into dest. A miss is reported as redis.Nil.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	if !s.Available() {
		return redis.Nil
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Publish(ctx context.Context, channel string, message interface{}) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

func (s *CacheService) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	if !s.Available() {
		return nil
	}
	return s.client.Subscribe(ctx, channel)
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}

// PredictionKey names the cache entry for one parsed feature vector under
// one artifact, so spellings such as hour "08" and speed "50.0" share the
// entry of "8" and "50". Categories stay case-sensitive: the encoder treats
// "urban" as unseen.
func PredictionKey(artifactID string, f models.Features) string {
	return strings.Join([]string{
		"prediction",
		artifactID,
		strconv.Itoa(f.Hour),
		string(f.DayOfWeek),
		string(f.RoadType),
		string(f.WeatherCondition),
		strconv.FormatFloat(f.AvgSpeed, 'g', -1, 64),
	}, ":")
}
