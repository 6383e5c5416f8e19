package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cityflow/traffic-classifier/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cityflow_simulator_feed_published_total",
		Help: "Total number of observations delivered to a feed sink.",
	}, []string{"sink"})
	feedFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cityflow_simulator_feed_failed_total",
		Help: "Total number of observations a feed sink rejected.",
	}, []string{"sink"})
)

// Sink receives generated observations in addition to the dataset file.
type Sink interface {
	Name() string
	Write(ctx context.Context, obs []models.Observation) (int, error)
	Close()
}

// ObservationPayload is the JSON shape published on the MQTT feed.
type ObservationPayload struct {
	TS               string  `json:"ts"`
	Hour             int     `json:"hour"`
	DayOfWeek        string  `json:"day_of_week"`
	RoadType         string  `json:"road_type"`
	WeatherCondition string  `json:"weather_condition"`
	AvgSpeed         float64 `json:"avg_speed"`
	TrafficLevel     int     `json:"traffic_level"`
}

func NewObservationPayload(o models.Observation) ObservationPayload {
	return ObservationPayload{
		TS:               o.Timestamp.UTC().Format(time.RFC3339),
		Hour:             o.Hour,
		DayOfWeek:        string(o.DayOfWeek),
		RoadType:         string(o.RoadType),
		WeatherCondition: string(o.WeatherCondition),
		AvgSpeed:         o.AvgSpeed,
		TrafficLevel:     int(o.TrafficLevel),
	}
}

// Topic returns the MQTT topic for an observation, one per road class.
func Topic(prefix string, o models.Observation) string {
	return strings.TrimSuffix(prefix, "/") + "/" + strings.ToLower(string(o.RoadType))
}

type MQTTPublisher struct {
	client mqtt.Client
	prefix string
}

func NewMQTTPublisher(brokerURL, topicPrefix string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID("simulator-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warnf("mqtt connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	log.Infof("mqtt connected: %s", brokerURL)
	return &MQTTPublisher{client: client, prefix: topicPrefix}, nil
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) Write(ctx context.Context, obs []models.Observation) (int, error) {
	published := 0
	for _, o := range obs {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		data, err := json.Marshal(NewObservationPayload(o))
		if err != nil {
			feedFailed.WithLabelValues(p.Name()).Inc()
			log.Errorf("json marshal failed for ts=%s: %v", o.Timestamp, err)
			continue
		}
		token := p.client.Publish(Topic(p.prefix, o), 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			feedFailed.WithLabelValues(p.Name()).Inc()
			log.Errorf("mqtt publish failed for ts=%s: %v", o.Timestamp, err)
			continue
		}
		feedPublished.WithLabelValues(p.Name()).Inc()
		published++
	}
	return published, nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// PostgresSink upserts observations into traffic_observations.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS traffic_observations (
			ts TIMESTAMPTZ PRIMARY KEY,
			hour SMALLINT NOT NULL,
			day_of_week TEXT NOT NULL,
			road_type TEXT NOT NULL,
			weather_condition TEXT NOT NULL,
			avg_speed DOUBLE PRECISION NOT NULL,
			traffic_level SMALLINT NOT NULL
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create traffic_observations: %w", err)
	}
	log.Infof("db connected")
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, obs []models.Observation) (int, error) {
	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(`
			INSERT INTO traffic_observations (ts, hour, day_of_week, road_type, weather_condition, avg_speed, traffic_level)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (ts) DO UPDATE SET
				hour = EXCLUDED.hour,
				day_of_week = EXCLUDED.day_of_week,
				road_type = EXCLUDED.road_type,
				weather_condition = EXCLUDED.weather_condition,
				avg_speed = EXCLUDED.avg_speed,
				traffic_level = EXCLUDED.traffic_level
		`, o.Timestamp, o.Hour, string(o.DayOfWeek), string(o.RoadType), string(o.WeatherCondition), o.AvgSpeed, int(o.TrafficLevel))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	stored := 0
	for _, o := range obs {
		if _, err := br.Exec(); err != nil {
			feedFailed.WithLabelValues(s.Name()).Inc()
			return stored, fmt.Errorf("insert observation ts=%s: %w", o.Timestamp, err)
		}
		feedPublished.WithLabelValues(s.Name()).Inc()
		stored++
	}
	return stored, nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}
