package services

import (
	"context"
	"testing"
	"time"

	"cityflow/traffic-classifier/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictionKeyNormalizesNumbers(t *testing.T) {
	a, err := models.PredictionRequest{Hour: "08", AvgSpeed: "50.0"}.Parse()
	require.NoError(t, err)
	b, err := models.PredictionRequest{Hour: "8", AvgSpeed: "50"}.Parse()
	require.NoError(t, err)

	assert.Equal(t, PredictionKey("3f9a0c1e77b2d405", a), PredictionKey("3f9a0c1e77b2d405", b))
	assert.Equal(t, "prediction:3f9a0c1e77b2d405:8:Monday:Urban:Sunny:50", PredictionKey("3f9a0c1e77b2d405", b))
}

func TestPredictionKeyDistinguishes(t *testing.T) {
	base := models.Features{Hour: 8, DayOfWeek: models.Monday, RoadType: models.RoadUrban, WeatherCondition: models.WeatherSunny, AvgSpeed: 50}
	lower := base
	lower.RoadType = "urban"
	faster := base
	faster.AvgSpeed = 50.5

	keys := map[string]bool{
		PredictionKey("3f9a0c1e77b2d405", base):   true,
		PredictionKey("c81d2e6fa0934b17", base):   true,
		PredictionKey("3f9a0c1e77b2d405", lower):  true,
		PredictionKey("3f9a0c1e77b2d405", faster): true,
	}
	assert.Len(t, keys, 4)
}

func TestCacheServiceWithoutRedis(t *testing.T) {
	ctx := context.Background()
	var nilCache *CacheService
	for _, cache := range []*CacheService{nilCache, {}} {
		assert.False(t, cache.Available())
		var dest map[string]string
		assert.ErrorIs(t, cache.Get(ctx, "k", &dest), redis.Nil)
		assert.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
		assert.NoError(t, cache.Publish(ctx, PredictionChannel, "v"))
		assert.Nil(t, cache.Subscribe(ctx, PredictionChannel))
		assert.NoError(t, cache.Close())
	}
}

func TestHistoryServiceWithoutDatabase(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryService(nil)
	assert.False(t, h.Available())
	assert.NoError(t, h.Migrate())

	f := models.Features{Hour: 8, DayOfWeek: models.Tuesday, RoadType: models.RoadUrban, WeatherCondition: models.WeatherSunny, AvgSpeed: 20}
	assert.NoError(t, h.Record(ctx, models.NewPredictionLog(f, models.TrafficHigh, "advice", "rf-v1")))

	rows, err := h.List(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}
