package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cityflow/traffic-classifier/classifier"
	"cityflow/traffic-classifier/models"
	"cityflow/traffic-classifier/simulator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	artifactOnce sync.Once
	artifactData []byte
	artifactErr  error
)

func trainedArtifact(t *testing.T) []byte {
	t.Helper()
	artifactOnce.Do(func() {
		cfg := classifier.DefaultTrainConfig()
		cfg.Forest.Trees = 30
		cfg.ModelVersion = "rf-test"
		res, err := classifier.Fit(context.Background(), simulator.New(simulator.Config{Seed: 42}).Generate(2000), cfg)
		if err != nil {
			artifactErr = err
			return
		}
		artifactData, artifactErr = classifier.EncodeArtifact(res.Pipeline, res.Meta)
	})
	require.NoError(t, artifactErr)
	return artifactData
}

// memStore counts reads and can stall them so concurrent callers pile up.
type memStore struct {
	data  []byte
	err   error
	delay time.Duration
	loads atomic.Int32
}

func (s *memStore) Load(ctx context.Context) ([]byte, error) {
	s.loads.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func (s *memStore) Save(context.Context, []byte) error { return errors.New("read only") }
func (s *memStore) String() string                     { return "mem" }

type panickingStore struct{}

func (panickingStore) Load(context.Context) ([]byte, error) { panic("disk on fire") }
func (panickingStore) Save(context.Context, []byte) error   { return nil }
func (panickingStore) String() string                       { return "panicking" }

func TestRecommend(t *testing.T) {
	assert.Equal(t, RecommendAlternate, Recommend(models.TrafficHigh))
	assert.Equal(t, RecommendMonitor, Recommend(models.TrafficMedium))
	assert.Equal(t, RecommendDefault, Recommend(models.TrafficLow))
	assert.Equal(t, RecommendDefault, Recommend(models.TrafficLevel(9)))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "State(7)", State(7).String())
}

func TestConcurrentFirstAccessLoadsOnce(t *testing.T) {
	store := &memStore{data: trainedArtifact(t), delay: 50 * time.Millisecond}
	svc := NewService(store)
	require.Equal(t, StateUnloaded, svc.State())

	const callers = 32
	var wg sync.WaitGroup
	pipelines := make([]*classifier.Pipeline, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pipelines[i], errs[i] = svc.GetOrLoad(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.loads.Load())
	assert.Equal(t, int64(1), svc.LoadAttempts())
	assert.Equal(t, StateReady, svc.State())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, pipelines[0], pipelines[i])
	}

	meta, ok := svc.Metadata()
	require.True(t, ok)
	assert.Equal(t, "rf-test", meta.ModelVersion)
	assert.NotEmpty(t, meta.ArtifactID)
}

func TestMissingArtifactIsNotRetried(t *testing.T) {
	store := &memStore{err: classifier.ErrArtifactMissing}
	svc := NewService(store)

	for range 5 {
		res := svc.Predict(context.Background(), models.PredictionRequest{})
		assert.False(t, res.Available)
		assert.ErrorIs(t, res.Err, ErrModelUnavailable)
		assert.ErrorIs(t, res.Err, classifier.ErrArtifactMissing)
		assert.Empty(t, res.Label)
	}
	assert.Equal(t, int32(1), store.loads.Load())
	assert.Equal(t, StateUnavailable, svc.State())
	_, ok := svc.Metadata()
	assert.False(t, ok)
}

func TestCorruptArtifactIsUnavailable(t *testing.T) {
	svc := NewService(&memStore{data: []byte("not an artifact")})
	res := svc.Predict(context.Background(), models.PredictionRequest{})
	assert.False(t, res.Available)
	assert.ErrorIs(t, res.Err, ErrModelUnavailable)
	assert.Equal(t, StateUnavailable, svc.State())
}

func TestPanickingStoreIsUnavailable(t *testing.T) {
	svc := NewService(panickingStore{})
	var res Result
	require.NotPanics(t, func() {
		res = svc.Predict(context.Background(), models.PredictionRequest{})
	})
	assert.False(t, res.Available)
	assert.ErrorIs(t, res.Err, classifier.ErrArtifactCorrupt)
	assert.Equal(t, StateUnavailable, svc.State())
}

func TestMalformedInputDoesNotLoad(t *testing.T) {
	store := &memStore{data: trainedArtifact(t)}
	svc := NewService(store)

	for _, req := range []models.PredictionRequest{
		{Hour: "eight"},
		{Hour: "24"},
		{AvgSpeed: "fast"},
		{AvgSpeed: "-3"},
		{AvgSpeed: "NaN"},
	} {
		res := svc.Predict(context.Background(), req)
		assert.False(t, res.Available, "%+v", req)
		assert.ErrorIs(t, res.Err, models.ErrMalformedInput, "%+v", req)
	}
	assert.Equal(t, StateUnloaded, svc.State())
	assert.Zero(t, store.loads.Load())

	res := svc.Predict(context.Background(), models.PredictionRequest{})
	require.NoError(t, res.Err)
	assert.True(t, res.Available)
}

func TestPredictPeakUrbanCongestion(t *testing.T) {
	svc := NewService(&memStore{data: trainedArtifact(t)})
	res := svc.Predict(context.Background(), models.PredictionRequest{
		Hour: "8", DayOfWeek: "Tuesday", RoadType: "Urban", WeatherCondition: "Sunny", AvgSpeed: "20",
	})
	require.NoError(t, res.Err)
	assert.True(t, res.Available)
	assert.Equal(t, models.TrafficHigh, res.Level)
	assert.Equal(t, "High", res.Label)
	assert.Equal(t, RecommendAlternate, res.Recommendation)
	assert.Equal(t, "rf-test", res.ModelVersion)
}

func TestPredictWeekendHighway(t *testing.T) {
	svc := NewService(&memStore{data: trainedArtifact(t)})
	res := svc.Predict(context.Background(), models.PredictionRequest{
		Hour: "12", DayOfWeek: "Saturday", RoadType: "Highway", WeatherCondition: "Sunny", AvgSpeed: "95",
	})
	require.NoError(t, res.Err)
	assert.Equal(t, models.TrafficLow, res.Level)
	assert.Equal(t, RecommendDefault, res.Recommendation)
}

func TestPredictFillsDefaults(t *testing.T) {
	svc := NewService(&memStore{data: trainedArtifact(t)})
	res := svc.Predict(context.Background(), models.PredictionRequest{AvgSpeed: "42"})
	require.NoError(t, res.Err)
	assert.Equal(t, models.PredictionRequest{
		Hour: "8", DayOfWeek: "Monday", RoadType: "Urban", WeatherCondition: "Sunny", AvgSpeed: "42",
	}, res.Input)
	assert.Equal(t, 8, res.Features.Hour)
	assert.Equal(t, 42.0, res.Features.AvgSpeed)
}

func TestPredictIsIdempotent(t *testing.T) {
	store := &memStore{data: trainedArtifact(t)}
	svc := NewService(store)
	req := models.PredictionRequest{Hour: "17", DayOfWeek: "Friday", RoadType: "Rural", WeatherCondition: "Rainy", AvgSpeed: "30"}

	first := svc.Predict(context.Background(), req)
	require.NoError(t, first.Err)
	for range 10 {
		assert.Equal(t, first, svc.Predict(context.Background(), req))
	}
	assert.Equal(t, int32(1), store.loads.Load())
}

func TestLoadSurvivesCancelledCaller(t *testing.T) {
	store := &memStore{data: trainedArtifact(t)}
	svc := NewService(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := svc.GetOrLoad(ctx)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, StateReady, svc.State())
}
