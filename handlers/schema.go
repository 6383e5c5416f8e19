package handlers

import (
	"net/http"

	"cityflow/traffic-classifier/models"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type LevelInfo struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

type SchemaResponse struct {
	Days     []models.DayOfWeek       `json:"days"`
	Roads    []models.RoadType        `json:"roads"`
	Weathers []models.Weather         `json:"weathers"`
	Levels   []LevelInfo              `json:"levels"`
	Defaults models.PredictionRequest `json:"defaults"`
}

var schema = SchemaResponse{
	Days:     models.DaysOfWeek,
	Roads:    models.RoadTypes,
	Weathers: models.WeatherConditions,
	Levels: lo.Map(models.TrafficLevels, func(l models.TrafficLevel, _ int) LevelInfo {
		return LevelInfo{Value: int(l), Label: l.String()}
	}),
	Defaults: models.DefaultPredictionRequest,
}

// GetSchema lists the values the prediction form may offer. They are the
// same enumerations the simulator draws from.
func GetSchema(c *gin.Context) {
	c.JSON(http.StatusOK, schema)
}
