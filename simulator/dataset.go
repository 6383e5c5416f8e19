package simulator

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cityflow/traffic-classifier/models"
)

const timestampLayout = "2006-01-02 15:04:05"

// Columns is the dataset header, in file order.
var Columns = []string{"timestamp", "hour", "day_of_week", "road_type", "weather_condition", "avg_speed", "traffic_level"}

// GenerateDataset simulates n records with the given seed and writes them to path.
func GenerateDataset(path string, n int, seed uint64) ([]models.Observation, error) {
	obs := New(Config{Seed: seed}).Generate(n)
	if err := WriteDataset(path, obs); err != nil {
		return nil, err
	}
	log.Infof("generated %d records of traffic data in %s", n, path)
	return obs, nil
}

// WriteDataset writes obs as CSV. The file appears atomically: readers see
// either the previous content or the complete new one.
func WriteDataset(path string, obs []models.Observation) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".dataset-*.csv")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeDataset(tmp, obs); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish dataset: %w", err)
	}
	return nil
}

func EncodeDataset(w io.Writer, obs []models.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, o := range obs {
		rec := []string{
			o.Timestamp.UTC().Format(timestampLayout),
			strconv.Itoa(o.Hour),
			string(o.DayOfWeek),
			string(o.RoadType),
			string(o.WeatherCondition),
			strconv.FormatFloat(o.AvgSpeed, 'f', -1, 64),
			strconv.Itoa(int(o.TrafficLevel)),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadDataset loads a dataset written by WriteDataset. A missing file yields
// an error satisfying errors.Is(err, fs.ErrNotExist).
func ReadDataset(path string) ([]models.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return DecodeDataset(f)
}

func DecodeDataset(r io.Reader) ([]models.Observation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, col := range Columns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], col)
		}
	}

	var obs []models.Observation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		o, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		obs = append(obs, o)
	}
	return obs, nil
}

func parseRecord(rec []string) (models.Observation, error) {
	ts, err := time.Parse(timestampLayout, rec[0])
	if err != nil {
		return models.Observation{}, fmt.Errorf("timestamp: %w", err)
	}
	hour, err := strconv.Atoi(rec[1])
	if err != nil {
		return models.Observation{}, fmt.Errorf("hour: %w", err)
	}
	speed, err := strconv.ParseFloat(rec[5], 64)
	if err != nil {
		return models.Observation{}, fmt.Errorf("avg_speed: %w", err)
	}
	level, err := models.ParseTrafficLevel(rec[6])
	if err != nil {
		return models.Observation{}, err
	}
	o := models.Observation{
		Timestamp: ts,
		Features: models.Features{
			Hour:             hour,
			DayOfWeek:        models.DayOfWeek(rec[2]),
			RoadType:         models.RoadType(rec[3]),
			WeatherCondition: models.Weather(rec[4]),
			AvgSpeed:         speed,
		},
		TrafficLevel: level,
	}
	return o, o.Validate()
}
