package inference

import "cityflow/traffic-classifier/models"

const (
	RecommendAlternate = "Heavy traffic: we advise taking secondary roads."
	RecommendMonitor   = "Moderate traffic: keep an eye on updates."
	RecommendDefault   = "Main route recommended."
)

// Recommend maps a traffic level to advice. It never consults the model.
func Recommend(level models.TrafficLevel) string {
	switch level {
	case models.TrafficHigh:
		return RecommendAlternate
	case models.TrafficMedium:
		return RecommendMonitor
	default:
		return RecommendDefault
	}
}
