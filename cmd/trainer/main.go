package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cityflow/traffic-classifier/classifier"
	"cityflow/traffic-classifier/config"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	interval = flag.Duration("interval", 0, "retrain on this interval, serving metrics in between (0 = train once and exit)")
	dataset  = flag.String("dataset", "", "dataset path (default from DATASET_PATH)")

	log = logrus.WithField("module", "trainer")
)

var (
	runsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_trainer_runs_completed_total",
		Help: "Total number of training runs that saved an artifact.",
	})
	runsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cityflow_trainer_runs_failed_total",
		Help: "Total number of training runs that ended without an artifact.",
	})
)

func main() {
	flag.Parse()
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		log.Fatalf("%v", err)
	}
	if *dataset != "" {
		cfg.Training.DatasetPath = *dataset
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := classifier.OpenStore(ctx, cfg.Artifact.Path, s3Config(cfg.Artifact))
	if err != nil {
		log.Fatalf("artifact store init failed: %v", err)
	}
	trainCfg := trainConfig(cfg.Training)

	if *interval <= 0 {
		if err := runOnce(ctx, trainCfg, store); err != nil {
			log.Fatalf("training failed: %v", err)
		}
		return
	}

	if cfg.Training.MetricsPort > 0 {
		go serveHTTP(fmt.Sprintf(":%d", cfg.Training.MetricsPort))
	}
	log.Infof("trainer running: interval=%s store=%s", *interval, store)

	// Run first cycle immediately
	_ = runOnce(ctx, trainCfg, store)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = runOnce(ctx, trainCfg, store)
		case <-ctx.Done():
			log.Infof("trainer shutting down")
			return
		}
	}
}

func runOnce(ctx context.Context, cfg classifier.TrainConfig, store classifier.Store) error {
	res, err := classifier.Train(ctx, cfg, store)
	if err != nil {
		runsFailed.Inc()
		log.Errorf("training run failed: %v", err)
		return err
	}
	runsCompleted.Inc()
	log.Infof("model %s trained and saved to %s (accuracy %.4f)", res.Meta.ModelVersion, store, res.Report.Accuracy)
	return nil
}

func trainConfig(c config.TrainingConfig) classifier.TrainConfig {
	tc := classifier.DefaultTrainConfig()
	tc.DatasetPath = c.DatasetPath
	tc.DefaultRecords = c.DefaultRecords
	tc.TestSize = c.TestSize
	tc.SplitSeed = uint64(c.Seed)
	tc.DatasetSeed = uint64(c.Seed)
	tc.ModelVersion = c.ModelVersion
	tc.Forest.Trees = c.Trees
	tc.Forest.MaxDepth = c.MaxDepth
	tc.Forest.MinSamplesSplit = c.MinSamplesSplit
	tc.Forest.MinSamplesLeaf = c.MinSamplesLeaf
	tc.Forest.Seed = uint64(c.Seed)
	tc.Forest.Workers = c.Workers
	return tc
}

func s3Config(a config.ArtifactConfig) classifier.S3Config {
	return classifier.S3Config{
		Endpoint:  a.S3Endpoint,
		Region:    a.S3Region,
		Bucket:    a.S3Bucket,
		Key:       a.S3Key,
		AccessKey: a.S3AccessKey,
		SecretKey: a.S3SecretKey,
	}
}

func serveHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Infof("metrics server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("metrics server failed: %v", err)
	}
}
