package classifier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"cityflow/traffic-classifier/models"
	"cityflow/traffic-classifier/simulator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "classifier")

var (
	trainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cityflow_trainer_fit_duration_seconds",
		Help:    "Duration of a full encoder and forest fit.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
	})
	heldOutAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cityflow_trainer_heldout_accuracy",
		Help: "Accuracy of the last trained model on the held-out split.",
	})
	datasetRegenerations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_trainer_dataset_regenerations_total",
		Help: "Number of times training had to simulate a missing dataset.",
	})
)

type TrainConfig struct {
	DatasetPath    string
	DefaultRecords int
	TestSize       float64
	SplitSeed      uint64
	DatasetSeed    uint64
	ModelVersion   string
	Forest         ForestConfig
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		DatasetPath:    "data/traffic_data.csv",
		DefaultRecords: simulator.DefaultRecords,
		TestSize:       0.2,
		SplitSeed:      42,
		DatasetSeed:    42,
		ModelVersion:   "rf-v1",
		Forest:         DefaultForestConfig(),
	}
}

type TrainResult struct {
	Pipeline *Pipeline
	Report   Report
	Meta     Metadata
}

// LoadObservations reads the training dataset. When the file is missing it
// simulates a default-sized dataset in its place and reads once more; a
// second failure is final.
func LoadObservations(cfg TrainConfig) ([]models.Observation, error) {
	obs, err := simulator.ReadDataset(cfg.DatasetPath)
	if err == nil {
		return obs, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	log.Warnf("data file %s not found, running simulator first", cfg.DatasetPath)
	datasetRegenerations.Inc()
	if _, err := simulator.GenerateDataset(cfg.DatasetPath, cfg.DefaultRecords, cfg.DatasetSeed); err != nil {
		return nil, fmt.Errorf("%w: regenerate %s: %v", ErrDatasetMissing, cfg.DatasetPath, err)
	}
	obs, err = simulator.ReadDataset(cfg.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetMissing, err)
	}
	return obs, nil
}

// Fit splits obs, fits the encoder and forest on the training part and
// evaluates on the held-out part.
func Fit(ctx context.Context, obs []models.Observation, cfg TrainConfig) (*TrainResult, error) {
	if len(obs) == 0 {
		return nil, ErrEmptyDataset
	}
	start := time.Now()

	trainIdx, testIdx := TrainTestSplit(len(obs), cfg.TestSize, cfg.SplitSeed)
	if len(trainIdx) == 0 {
		return nil, fmt.Errorf("%w: no rows left for training", ErrEmptyDataset)
	}
	features := func(idx []int) []models.Features {
		return lo.Map(idx, func(i int, _ int) models.Features { return obs[i].Features })
	}
	labels := func(idx []int) []int {
		return lo.Map(idx, func(i int, _ int) int { return int(obs[i].TrafficLevel) })
	}

	encoder, err := FitEncoder(features(trainIdx))
	if err != nil {
		return nil, err
	}

	log.Infof("training model: %d train rows, %d test rows, %d trees", len(trainIdx), len(testIdx), cfg.Forest.Trees)
	forest, err := FitForest(ctx, encoder.TransformAll(features(trainIdx)), labels(trainIdx), models.NumLevels, cfg.Forest)
	if err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	p := &Pipeline{Encoder: encoder, Forest: forest}

	predicted := lo.Map(p.PredictAll(features(testIdx)), func(l models.TrafficLevel, _ int) int { return int(l) })
	report := Evaluate(labels(testIdx), predicted, lo.Map(models.TrafficLevels, func(l models.TrafficLevel, _ int) string {
		return l.String()
	}))

	elapsed := time.Since(start)
	trainDuration.Observe(elapsed.Seconds())
	heldOutAccuracy.Set(report.Accuracy)
	log.Infof("accuracy: %.4f (%.2fs)", report.Accuracy, elapsed.Seconds())

	return &TrainResult{
		Pipeline: p,
		Report:   report,
		Meta: Metadata{
			ModelVersion: cfg.ModelVersion,
			CreatedAt:    time.Now().UTC(),
			Trees:        len(forest.Trees),
			TrainRows:    len(trainIdx),
			TestRows:     len(testIdx),
			Accuracy:     report.Accuracy,
		},
	}, nil
}

// Train runs the whole batch: load (or regenerate) the dataset, fit,
// evaluate and persist. Nothing is written unless every step succeeds.
func Train(ctx context.Context, cfg TrainConfig, store Store) (*TrainResult, error) {
	obs, err := LoadObservations(cfg)
	if err != nil {
		return nil, err
	}
	res, err := Fit(ctx, obs, cfg)
	if err != nil {
		return nil, err
	}
	log.Infof("classification report:\n%s", res.Report)
	if err := SaveArtifact(ctx, store, res.Pipeline, res.Meta); err != nil {
		return nil, err
	}
	return res, nil
}
