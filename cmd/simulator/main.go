package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cityflow/traffic-classifier/config"
	"cityflow/traffic-classifier/models"
	"cityflow/traffic-classifier/simulator"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	records = flag.Int("n", 0, "number of observations to simulate (default from SIM_RECORDS)")
	output  = flag.String("out", "", "dataset path (default from DATASET_PATH)")

	log = logrus.WithField("module", "simulator-cmd")
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
	if *records > 0 {
		cfg.Simulator.Records = *records
	}
	if *output != "" {
		cfg.Simulator.OutputPath = *output
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		log.Fatalf("feed init failed: %v", err)
	}
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()

	if err := run(ctx, cfg.Simulator, sinks); err != nil {
		log.Fatalf("simulation failed: %v", err)
	}
}

// run writes the dataset and then hands the same observations to every
// sink. A sink failure is logged but does not undo the dataset.
func run(ctx context.Context, cfg config.SimulatorConfig, sinks []simulator.Sink) error {
	if cfg.Records <= 0 {
		return errors.New("record count must be positive")
	}
	obs, err := simulator.GenerateDataset(cfg.OutputPath, cfg.Records, uint64(cfg.Seed))
	if err != nil {
		return err
	}
	log.Infof("data generated and saved to %s (%d rows)", cfg.OutputPath, len(obs))
	logDistribution(obs)

	for _, s := range sinks {
		n, err := s.Write(ctx, obs)
		if err != nil {
			log.Errorf("%s feed: %d/%d delivered: %v", s.Name(), n, len(obs), err)
			continue
		}
		log.Infof("%s feed: %d observations delivered", s.Name(), n)
	}
	return nil
}

func openSinks(ctx context.Context, cfg *config.Config) ([]simulator.Sink, error) {
	var sinks []simulator.Sink
	if cfg.Simulator.MQTTBroker != "" {
		p, err := simulator.NewMQTTPublisher(cfg.Simulator.MQTTBroker, cfg.Simulator.MQTTTopic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, p)
	}
	if cfg.Simulator.FeedToDatabase {
		s, err := simulator.NewPostgresSink(ctx, cfg.Database.GetURL())
		if err != nil {
			for _, open := range sinks {
				open.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func logDistribution(obs []models.Observation) {
	counts := make(map[models.TrafficLevel]int, models.NumLevels)
	for _, o := range obs {
		counts[o.TrafficLevel]++
	}
	for _, l := range models.TrafficLevels {
		log.Infof("  %-6s %d", l, counts[l])
	}
}
