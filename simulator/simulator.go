package simulator

import (
	"math"
	"time"

	"cityflow/traffic-classifier/models"
	"cityflow/traffic-classifier/utils/randengine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

const (
	// MinSpeed is the floor applied to every generated speed.
	MinSpeed = 5.0

	highRatio   = 0.4
	mediumRatio = 0.7

	// DefaultRecords is the dataset size training falls back to.
	DefaultRecords = 5000
)

// Epoch is the first simulated hour.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var log = logrus.WithField("module", "simulator")

var observationsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cityflow_simulator_observations_generated_total",
	Help: "Total number of simulated observations, by label.",
}, []string{"traffic_level"})

type Config struct {
	Epoch time.Time
	Seed  uint64
}

// Simulator draws synthetic observations one hour apart. It is not safe for
// concurrent use.
type Simulator struct {
	epoch time.Time
	rng   *randengine.Engine
}

func New(cfg Config) *Simulator {
	epoch := cfg.Epoch
	if epoch.IsZero() {
		epoch = Epoch
	}
	return &Simulator{epoch: epoch.UTC(), rng: randengine.New(cfg.Seed)}
}

// Generate returns n observations in chronological order, or none when n is
// not positive.
func (s *Simulator) Generate(n int) []models.Observation {
	if n <= 0 {
		return []models.Observation{}
	}
	out := make([]models.Observation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.observe(i))
	}
	log.Debugf("generated %d observations from %s", n, s.epoch.Format(time.RFC3339))
	return out
}

func (s *Simulator) observe(i int) models.Observation {
	ts := s.epoch.Add(time.Duration(i) * time.Hour)
	hour := ts.Hour()
	day := models.DayOf(ts)
	road := randengine.Pick(s.rng, models.RoadTypes)
	weather := randengine.Pick(s.rng, models.WeatherConditions)

	peak := IsPeak(hour, day)
	base := BaseSpeed(road)

	factor := 1.0
	if peak {
		factor -= s.rng.Uniform(0.4, 0.7)
	}
	if weather == models.WeatherRainy || weather == models.WeatherFoggy {
		factor -= s.rng.Uniform(0.1, 0.3)
	}

	speed := math.Max(MinSpeed, base*factor+s.rng.Uniform(-5, 5))
	speed = math.Round(speed*100) / 100

	level := Label(peak, speed, base)
	observationsGenerated.WithLabelValues(level.String()).Inc()

	return models.Observation{
		Timestamp: ts,
		Features: models.Features{
			Hour:             hour,
			DayOfWeek:        day,
			RoadType:         road,
			WeatherCondition: weather,
			AvgSpeed:         speed,
		},
		TrafficLevel: level,
	}
}

// IsPeak reports weekday rush hours: 07-09 and 16-19 inclusive.
func IsPeak(hour int, day models.DayOfWeek) bool {
	rush := (hour >= 7 && hour <= 9) || (hour >= 16 && hour <= 19)
	return rush && day.IsWeekday()
}

// BaseSpeed is the free-flow speed of a road class. Unknown classes get the
// residential speed.
func BaseSpeed(road models.RoadType) float64 {
	switch road {
	case models.RoadHighway:
		return 100
	case models.RoadUrban:
		return 50
	default:
		return 30
	}
}

// Label applies the congestion rule. Peak hours always win; otherwise the
// speed ratio decides with strict thresholds.
func Label(peak bool, speed, base float64) models.TrafficLevel {
	switch {
	case peak || speed < highRatio*base:
		return models.TrafficHigh
	case speed < mediumRatio*base:
		return models.TrafficMedium
	default:
		return models.TrafficLow
	}
}
