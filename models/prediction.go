package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrMalformedInput = errors.New("malformed prediction input")

// PredictionRequest carries the five feature fields exactly as the web layer
// received them. Nothing is trusted until Parse succeeds.
type PredictionRequest struct {
	Hour             string `json:"hour" form:"hour"`
	DayOfWeek        string `json:"day_of_week" form:"day_of_week"`
	RoadType         string `json:"road_type" form:"road_type"`
	WeatherCondition string `json:"weather_condition" form:"weather_condition"`
	AvgSpeed         string `json:"avg_speed" form:"avg_speed"`
}

// DefaultPredictionRequest fills fields the caller left empty.
var DefaultPredictionRequest = PredictionRequest{
	Hour:             "8",
	DayOfWeek:        string(Monday),
	RoadType:         string(RoadUrban),
	WeatherCondition: string(WeatherSunny),
	AvgSpeed:         "50",
}

// WithDefaults returns a copy with every blank field replaced by its default.
func (r PredictionRequest) WithDefaults() PredictionRequest {
	fill := func(v, def string) string {
		if v = strings.TrimSpace(v); v == "" {
			return def
		}
		return v
	}
	d := DefaultPredictionRequest
	return PredictionRequest{
		Hour:             fill(r.Hour, d.Hour),
		DayOfWeek:        fill(r.DayOfWeek, d.DayOfWeek),
		RoadType:         fill(r.RoadType, d.RoadType),
		WeatherCondition: fill(r.WeatherCondition, d.WeatherCondition),
		AvgSpeed:         fill(r.AvgSpeed, d.AvgSpeed),
	}
}

// Parse fills defaults and coerces the numeric fields. Categorical values are
// passed through untouched; unknown ones are the encoder's concern.
func (r PredictionRequest) Parse() (Features, error) {
	r = r.WithDefaults()

	hour, err := strconv.Atoi(r.Hour)
	if err != nil {
		return Features{}, fmt.Errorf("%w: hour %q is not an integer", ErrMalformedInput, r.Hour)
	}
	if hour < 0 || hour > 23 {
		return Features{}, fmt.Errorf("%w: hour %d out of range 0-23", ErrMalformedInput, hour)
	}

	speed, err := strconv.ParseFloat(r.AvgSpeed, 64)
	if err != nil {
		return Features{}, fmt.Errorf("%w: avg_speed %q is not a number", ErrMalformedInput, r.AvgSpeed)
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed < 0 {
		return Features{}, fmt.Errorf("%w: avg_speed %v must be a finite non-negative number", ErrMalformedInput, speed)
	}

	return Features{
		Hour:             hour,
		DayOfWeek:        DayOfWeek(r.DayOfWeek),
		RoadType:         RoadType(r.RoadType),
		WeatherCondition: Weather(r.WeatherCondition),
		AvgSpeed:         speed,
	}, nil
}

// PredictionLog is one served prediction kept for the dashboard history.
type PredictionLog struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	TS               time.Time `gorm:"column:ts;index" json:"ts"`
	Hour             int       `gorm:"column:hour" json:"hour"`
	DayOfWeek        string    `gorm:"column:day_of_week" json:"day_of_week"`
	RoadType         string    `gorm:"column:road_type" json:"road_type"`
	WeatherCondition string    `gorm:"column:weather_condition" json:"weather_condition"`
	AvgSpeed         float64   `gorm:"column:avg_speed" json:"avg_speed"`
	TrafficLevel     int       `gorm:"column:traffic_level" json:"traffic_level"`
	Label            string    `gorm:"column:label" json:"label"`
	Recommendation   string    `gorm:"column:recommendation" json:"recommendation"`
	ModelVersion     string    `gorm:"column:model_version" json:"model_version"`
}

func (PredictionLog) TableName() string { return "prediction_logs" }

// NewPredictionLog stamps a history row for a served prediction.
func NewPredictionLog(f Features, level TrafficLevel, recommendation, modelVersion string) PredictionLog {
	return PredictionLog{
		ID:               uuid.New(),
		TS:               time.Now().UTC(),
		Hour:             f.Hour,
		DayOfWeek:        string(f.DayOfWeek),
		RoadType:         string(f.RoadType),
		WeatherCondition: string(f.WeatherCondition),
		AvgSpeed:         f.AvgSpeed,
		TrafficLevel:     int(level),
		Label:            level.String(),
		Recommendation:   recommendation,
		ModelVersion:     modelVersion,
	}
}
