package simulator

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cityflow/traffic-classifier/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPeak(t *testing.T) {
	tests := []struct {
		hour int
		day  models.DayOfWeek
		want bool
	}{
		{6, models.Monday, false},
		{7, models.Monday, true},
		{9, models.Friday, true},
		{10, models.Wednesday, false},
		{15, models.Tuesday, false},
		{16, models.Tuesday, true},
		{19, models.Thursday, true},
		{20, models.Thursday, false},
		{8, models.Saturday, false},
		{17, models.Sunday, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.day), func(t *testing.T) {
			assert.Equal(t, tt.want, IsPeak(tt.hour, tt.day), "hour=%d", tt.hour)
		})
	}
}

func TestBaseSpeed(t *testing.T) {
	assert.Equal(t, 100.0, BaseSpeed(models.RoadHighway))
	assert.Equal(t, 50.0, BaseSpeed(models.RoadUrban))
	assert.Equal(t, 30.0, BaseSpeed(models.RoadResidential))
}

func TestLabelThresholds(t *testing.T) {
	for _, road := range models.RoadTypes {
		base := BaseSpeed(road)
		t.Run(string(road), func(t *testing.T) {
			assert.Equal(t, models.TrafficHigh, Label(true, base, base), "peak wins regardless of speed")
			assert.Equal(t, models.TrafficHigh, Label(false, 0.4*base-0.01, base))
			assert.Equal(t, models.TrafficMedium, Label(false, 0.4*base, base), "0.4x is not below 0.4x")
			assert.Equal(t, models.TrafficMedium, Label(false, 0.7*base-0.01, base))
			assert.Equal(t, models.TrafficLow, Label(false, 0.7*base, base), "0.7x is not below 0.7x")
			assert.Equal(t, models.TrafficLow, Label(false, base, base))
		})
	}
}

func TestGenerateInvariants(t *testing.T) {
	obs := New(Config{Seed: 11}).Generate(24 * 14)
	require.Len(t, obs, 24*14)

	for i, o := range obs {
		require.NoError(t, o.Validate())
		assert.Equal(t, Epoch.Add(time.Duration(i)*time.Hour), o.Timestamp)
		assert.Equal(t, o.Timestamp.Hour(), o.Hour)
		assert.Equal(t, models.DayOf(o.Timestamp), o.DayOfWeek)
		assert.GreaterOrEqual(t, o.AvgSpeed, MinSpeed)
		assert.Equal(t, o.AvgSpeed, float64(int64(o.AvgSpeed*100+0.5))/100, "rounded to 2 decimals")

		peak := IsPeak(o.Hour, o.DayOfWeek)
		if peak {
			assert.Equal(t, models.TrafficHigh, o.TrafficLevel)
			continue
		}
		assert.Equal(t, Label(false, o.AvgSpeed, BaseSpeed(o.RoadType)), o.TrafficLevel)
	}
}

func TestGenerateSpeedRanges(t *testing.T) {
	for _, o := range New(Config{Seed: 5}).Generate(2000) {
		base := BaseSpeed(o.RoadType)
		peak := IsPeak(o.Hour, o.DayOfWeek)
		bad := o.WeatherCondition == models.WeatherRainy || o.WeatherCondition == models.WeatherFoggy
		if !peak && !bad {
			assert.InDelta(t, base, o.AvgSpeed, 5.01)
		}
		assert.LessOrEqual(t, o.AvgSpeed, base+5.01)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a := New(Config{Seed: 99}).Generate(200)
	b := New(Config{Seed: 99}).Generate(200)
	assert.Equal(t, a, b)
}

func TestGenerateNonPositiveCount(t *testing.T) {
	for _, n := range []int{0, -1, -5000} {
		obs := New(Config{Seed: 1}).Generate(n)
		assert.NotNil(t, obs)
		assert.Empty(t, obs)
	}
}

func TestGenerateCoversEnumerations(t *testing.T) {
	roads := map[models.RoadType]bool{}
	weathers := map[models.Weather]bool{}
	for _, o := range New(Config{Seed: 1}).Generate(500) {
		roads[o.RoadType] = true
		weathers[o.WeatherCondition] = true
	}
	assert.Len(t, roads, len(models.RoadTypes))
	assert.Len(t, weathers, len(models.WeatherConditions))
}

func TestDatasetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "traffic_data.csv")
	obs, err := GenerateDataset(path, 100, 3)
	require.NoError(t, err)

	got, err := ReadDataset(path)
	require.NoError(t, err)
	assert.Equal(t, obs, got)
}

func TestEncodeDatasetHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeDataset(&buf, New(Config{Seed: 1}).Generate(1)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,hour,day_of_week,road_type,weather_condition,avg_speed,traffic_level", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2025-01-01 00:00:00,0,Wednesday,"), lines[1])
}

func TestReadDatasetMissing(t *testing.T) {
	_, err := ReadDataset(filepath.Join(t.TempDir(), "nope.csv"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestDecodeDatasetRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad header", "ts,hour,day_of_week,road_type,weather_condition,avg_speed,traffic_level\n"},
		{"short row", strings.Join(Columns, ",") + "\n2025-01-01 00:00:00,0,Wednesday\n"},
		{"bad speed", strings.Join(Columns, ",") + "\n2025-01-01 00:00:00,0,Wednesday,Urban,Sunny,fast,0\n"},
		{"unknown road", strings.Join(Columns, ",") + "\n2025-01-01 00:00:00,0,Wednesday,Bridge,Sunny,40,0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDataset(strings.NewReader(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestObservationPayload(t *testing.T) {
	o := New(Config{Seed: 2}).Generate(1)[0]
	data, err := json.Marshal(NewObservationPayload(o))
	require.NoError(t, err)

	var p ObservationPayload
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "2025-01-01T00:00:00Z", p.TS)
	assert.Equal(t, string(o.RoadType), p.RoadType)
	assert.Equal(t, int(o.TrafficLevel), p.TrafficLevel)
}

func TestTopic(t *testing.T) {
	o := models.Observation{Features: models.Features{RoadType: models.RoadHighway}}
	assert.Equal(t, "cityflow/simulated/highway", Topic("cityflow/simulated/", o))
	assert.Equal(t, "cityflow/simulated/highway", Topic("cityflow/simulated", o))
}
