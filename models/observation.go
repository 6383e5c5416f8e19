package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

type DayOfWeek string

const (
	Monday    DayOfWeek = "Monday"
	Tuesday   DayOfWeek = "Tuesday"
	Wednesday DayOfWeek = "Wednesday"
	Thursday  DayOfWeek = "Thursday"
	Friday    DayOfWeek = "Friday"
	Saturday  DayOfWeek = "Saturday"
	Sunday    DayOfWeek = "Sunday"
)

type RoadType string

const (
	RoadUrban       RoadType = "Urban"
	RoadHighway     RoadType = "Highway"
	RoadResidential RoadType = "Residential"
)

type Weather string

const (
	WeatherSunny  Weather = "Sunny"
	WeatherRainy  Weather = "Rainy"
	WeatherCloudy Weather = "Cloudy"
	WeatherFoggy  Weather = "Foggy"
)

// Enumerations shared by the simulator, the encoder and the dashboard.
// Order matters for display only.
var (
	DaysOfWeek        = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}
	RoadTypes         = []RoadType{RoadUrban, RoadHighway, RoadResidential}
	WeatherConditions = []Weather{WeatherSunny, WeatherRainy, WeatherCloudy, WeatherFoggy}
)

var ErrInvalidObservation = errors.New("invalid observation")

func (d DayOfWeek) Valid() bool { return lo.Contains(DaysOfWeek, d) }
func (r RoadType) Valid() bool  { return lo.Contains(RoadTypes, r) }
func (w Weather) Valid() bool   { return lo.Contains(WeatherConditions, w) }

// IsWeekday reports whether d falls Monday through Friday.
func (d DayOfWeek) IsWeekday() bool {
	i := lo.IndexOf(DaysOfWeek, d)
	return i >= 0 && i < 5
}

// DayOf maps a time to its Monday-first day name.
func DayOf(t time.Time) DayOfWeek {
	// time.Weekday starts on Sunday.
	return DaysOfWeek[(int(t.Weekday())+6)%7]
}

// Features are the five inputs the classifier predicts from. Categorical
// fields may hold values outside their enumeration at inference time.
type Features struct {
	Hour             int       `json:"hour" bson:"hour"`
	DayOfWeek        DayOfWeek `json:"day_of_week" bson:"day_of_week"`
	RoadType         RoadType  `json:"road_type" bson:"road_type"`
	WeatherCondition Weather   `json:"weather_condition" bson:"weather_condition"`
	AvgSpeed         float64   `json:"avg_speed" bson:"avg_speed"`
}

// Observation is one labeled traffic sample.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Features
	TrafficLevel TrafficLevel `json:"traffic_level"`
}

// Validate checks that every categorical value belongs to its enumeration.
func (o Observation) Validate() error {
	switch {
	case o.Hour < 0 || o.Hour > 23:
		return fmt.Errorf("%w: hour %d out of range", ErrInvalidObservation, o.Hour)
	case !o.DayOfWeek.Valid():
		return fmt.Errorf("%w: unknown day_of_week %q", ErrInvalidObservation, o.DayOfWeek)
	case !o.RoadType.Valid():
		return fmt.Errorf("%w: unknown road_type %q", ErrInvalidObservation, o.RoadType)
	case !o.WeatherCondition.Valid():
		return fmt.Errorf("%w: unknown weather_condition %q", ErrInvalidObservation, o.WeatherCondition)
	case !o.TrafficLevel.Valid():
		return fmt.Errorf("%w: unknown traffic_level %d", ErrInvalidObservation, o.TrafficLevel)
	}
	return nil
}
