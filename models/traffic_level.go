package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TrafficLevel is the three-class congestion label.
type TrafficLevel int

const (
	TrafficLow TrafficLevel = iota
	TrafficMedium
	TrafficHigh
)

// NumLevels is the number of label classes.
const NumLevels = 3

var TrafficLevels = []TrafficLevel{TrafficLow, TrafficMedium, TrafficHigh}

var levelNames = [NumLevels]string{"Low", "Medium", "High"}

func (l TrafficLevel) Valid() bool { return l >= TrafficLow && l <= TrafficHigh }

func (l TrafficLevel) String() string {
	if !l.Valid() {
		return "Unknown"
	}
	return levelNames[l]
}

// ParseTrafficLevel accepts either the ordinal ("0".."2") or the name.
func ParseTrafficLevel(s string) (TrafficLevel, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		l := TrafficLevel(n)
		if !l.Valid() {
			return 0, fmt.Errorf("traffic level %d out of range", n)
		}
		return l, nil
	}
	for i, name := range levelNames {
		if strings.EqualFold(name, s) {
			return TrafficLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown traffic level %q", s)
}

// MarshalJSON keeps the ordinal on the wire, matching the dataset column.
func (l TrafficLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(l))
}

func (l *TrafficLevel) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*l = TrafficLevel(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTrafficLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
