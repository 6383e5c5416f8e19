package inference

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cityflow/traffic-classifier/classifier"
	"cityflow/traffic-classifier/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var log = logrus.WithField("module", "inference")

var ErrModelUnavailable = errors.New("traffic model unavailable")

var (
	predictionsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cityflow_inference_predictions_total",
		Help: "Total number of predictions served, by label.",
	}, []string{"label"})
	predictionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cityflow_inference_predictions_rejected_total",
		Help: "Total number of prediction requests answered without a prediction.",
	}, []string{"reason"})
	artifactLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cityflow_inference_artifact_loads_total",
		Help: "Artifact load attempts, by outcome.",
	}, []string{"outcome"})
	artifactLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cityflow_inference_artifact_load_duration_seconds",
		Help:    "Duration of the one-time artifact load.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Result answers one prediction request. Input always echoes the request
// with defaults filled so the caller can redisplay it.
type Result struct {
	Available      bool
	Level          models.TrafficLevel
	Label          string
	Recommendation string
	ModelVersion   string
	Features       models.Features
	Input          models.PredictionRequest
	Err            error
}

// Service answers predictions from an artifact it loads on first use. The
// load outcome is kept for the life of the process: a missing or broken
// artifact is not retried.
type Service struct {
	store classifier.Store

	group    singleflight.Group
	state    atomic.Int32
	pipeline atomic.Pointer[classifier.Pipeline]
	meta     atomic.Pointer[classifier.Metadata]
	loadErr  atomic.Pointer[error]
	attempts atomic.Int64
}

func NewService(store classifier.Store) *Service {
	return &Service{store: store}
}

func (s *Service) State() State {
	return State(s.state.Load())
}

// LoadAttempts reports how many times the store has actually been read.
func (s *Service) LoadAttempts() int64 {
	return s.attempts.Load()
}

// Metadata returns the loaded artifact's metadata, if any.
func (s *Service) Metadata() (classifier.Metadata, bool) {
	m := s.meta.Load()
	if m == nil {
		return classifier.Metadata{}, false
	}
	return *m, true
}

// GetOrLoad returns the cached pipeline, loading it on the first call.
// Concurrent first callers share a single load.
func (s *Service) GetOrLoad(ctx context.Context) (*classifier.Pipeline, error) {
	if p, err, done := s.settled(); done {
		return p, err
	}

	// The outcome is cached for every later request, so the load must not
	// be cut short by the request that happened to trigger it.
	loadCtx := context.WithoutCancel(ctx)
	_, _, _ = s.group.Do("artifact", func() (interface{}, error) {
		if !s.state.CompareAndSwap(int32(StateUnloaded), int32(StateLoading)) {
			return nil, nil
		}
		s.load(loadCtx)
		return nil, nil
	})

	p, err, _ := s.settled()
	return p, err
}

func (s *Service) settled() (*classifier.Pipeline, error, bool) {
	switch s.State() {
	case StateReady:
		return s.pipeline.Load(), nil, true
	case StateUnavailable:
		err := ErrModelUnavailable
		if e := s.loadErr.Load(); e != nil {
			err = fmt.Errorf("%w: %w", ErrModelUnavailable, *e)
		}
		return nil, err, true
	}
	return nil, ErrModelUnavailable, false
}

func (s *Service) load(ctx context.Context) {
	s.attempts.Add(1)
	start := time.Now()
	defer func() {
		artifactLoadDuration.Observe(time.Since(start).Seconds())
	}()

	p, meta, err := s.loadArtifact(ctx)
	if err != nil {
		s.loadErr.Store(&err)
		s.state.Store(int32(StateUnavailable))
		artifactLoads.WithLabelValues("failed").Inc()
		log.Errorf("model not available from %s: %v", s.store, err)
		return
	}

	s.meta.Store(&meta)
	s.pipeline.Store(p)
	s.state.Store(int32(StateReady))
	artifactLoads.WithLabelValues("ok").Inc()
	log.Infof("model %s loaded from %s (%d trees, accuracy %.4f)", meta.ModelVersion, s.store, meta.Trees, meta.Accuracy)
}

func (s *Service) loadArtifact(ctx context.Context) (p *classifier.Pipeline, meta classifier.Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic while decoding: %v", classifier.ErrArtifactCorrupt, r)
		}
	}()
	return classifier.LoadArtifact(ctx, s.store)
}

// Predict answers one request. It never panics and never returns an error
// to the caller: every failure is reported through Result.
func (s *Service) Predict(ctx context.Context, req models.PredictionRequest) (res Result) {
	res.Input = req.WithDefaults()

	features, err := req.Parse()
	if err != nil {
		predictionsRejected.WithLabelValues("malformed").Inc()
		res.Err = err
		return res
	}
	res.Features = features

	p, err := s.GetOrLoad(ctx)
	if err != nil {
		predictionsRejected.WithLabelValues("unavailable").Inc()
		res.Err = err
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			predictionsRejected.WithLabelValues("panic").Inc()
			log.Errorf("prediction panicked for %+v: %v", features, r)
			res = Result{Input: res.Input, Features: features, Err: fmt.Errorf("%w: %v", ErrModelUnavailable, r)}
		}
	}()

	level := p.Predict(features)
	res.Available = true
	res.Level = level
	res.Label = level.String()
	res.Recommendation = Recommend(level)
	if m, ok := s.Metadata(); ok {
		res.ModelVersion = m.ModelVersion
	}
	predictionsServed.WithLabelValues(res.Label).Inc()
	return res
}
