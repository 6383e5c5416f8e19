package handlers

import (
	"net/http"
	"time"

	"cityflow/traffic-classifier/models"

	"github.com/gin-gonic/gin"
)

type HistoryHandler struct {
	history History
}

func NewHistoryHandler(history History) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// GetPredictions pages through served predictions, newest first.
func (h *HistoryHandler) GetPredictions(c *gin.Context) {
	p := ParsePagination(c)

	rows, err := h.history.List(c.Request.Context(), p.Before, p.Limit)
	if err != nil {
		log.Errorf("list predictions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	c.JSON(http.StatusOK, NewCursorResponse(rows, p.Limit, func(r models.PredictionLog) time.Time { return r.TS }))
}
