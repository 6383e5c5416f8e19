package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cityflow/traffic-classifier/classifier"
	"cityflow/traffic-classifier/inference"
	"cityflow/traffic-classifier/models"
	"cityflow/traffic-classifier/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "handlers")

var predictRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cityflow_api_predict_requests_total",
	Help: "Predict requests by HTTP status and whether the cache answered.",
}, []string{"status", "cache"})

// Predictor is the part of the inference service the HTTP layer needs.
type Predictor interface {
	Predict(ctx context.Context, req models.PredictionRequest) inference.Result
	State() inference.State
	Metadata() (classifier.Metadata, bool)
}

// History records served predictions and pages through them.
type History interface {
	Record(ctx context.Context, entry models.PredictionLog) error
	List(ctx context.Context, before *time.Time, limit int) ([]models.PredictionLog, error)
}

type PredictionResponse struct {
	Available      bool                     `json:"available"`
	Level          *models.TrafficLevel     `json:"level,omitempty"`
	Label          string                   `json:"label,omitempty"`
	Recommendation string                   `json:"recommendation,omitempty"`
	ModelVersion   string                   `json:"model_version,omitempty"`
	Input          models.PredictionRequest `json:"input"`
	Error          string                   `json:"error,omitempty"`
}

type PredictionHandler struct {
	predictor Predictor
	cache     *services.CacheService
	history   History
	cacheTTL  time.Duration
}

func NewPredictionHandler(predictor Predictor, cache *services.CacheService, history History, cacheTTL time.Duration) *PredictionHandler {
	return &PredictionHandler{predictor: predictor, cache: cache, history: history, cacheTTL: cacheTTL}
}

// Predict accepts the five feature fields as JSON or form values. Blank
// fields take their defaults and the filled request is echoed back.
func (h *PredictionHandler) Predict(c *gin.Context) {
	var req models.PredictionRequest
	if err := c.ShouldBind(&req); err != nil {
		h.respond(c, http.StatusBadRequest, "", PredictionResponse{
			Input: req.WithDefaults(),
			Error: "invalid request body: " + err.Error(),
		})
		return
	}
	ctx := c.Request.Context()

	cacheKey := ""
	if features, err := req.Parse(); err == nil {
		cacheKey = h.cacheKey(features)
	}
	if cacheKey != "" {
		var cached PredictionResponse
		if err := h.cache.Get(ctx, cacheKey, &cached); err == nil && cached.Available {
			cached.Input = req.WithDefaults()
			h.respond(c, http.StatusOK, "hit", cached)
			return
		}
	}

	res := h.predictor.Predict(ctx, req)
	if !res.Available {
		status := http.StatusServiceUnavailable
		if errors.Is(res.Err, models.ErrMalformedInput) {
			status = http.StatusBadRequest
		}
		h.respond(c, status, "", PredictionResponse{Input: res.Input, Error: errorText(res.Err)})
		return
	}

	level := res.Level
	resp := PredictionResponse{
		Available:      true,
		Level:          &level,
		Label:          res.Label,
		Recommendation: res.Recommendation,
		ModelVersion:   res.ModelVersion,
		Input:          res.Input,
	}
	h.afterPredict(ctx, h.cacheKey(res.Features), res, resp)
	h.respond(c, http.StatusOK, "miss", resp)
}

// cacheKey is empty until a model is loaded. Entries are scoped to the
// artifact that produced them, not to its reusable version tag.
func (h *PredictionHandler) cacheKey(f models.Features) string {
	if !h.cache.Available() {
		return ""
	}
	meta, ok := h.predictor.Metadata()
	if !ok || meta.ArtifactID == "" {
		return ""
	}
	return services.PredictionKey(meta.ArtifactID, f)
}

// afterPredict caches, publishes and records a served prediction. None of
// these may fail the request.
func (h *PredictionHandler) afterPredict(ctx context.Context, key string, res inference.Result, resp PredictionResponse) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if key != "" {
		if err := h.cache.Set(ctx, key, resp, h.cacheTTL); err != nil {
			log.Warnf("cache prediction: %v", err)
		}
	}
	if err := h.cache.Publish(ctx, services.PredictionChannel, resp); err != nil {
		log.Warnf("publish prediction: %v", err)
	}
	if h.history != nil {
		entry := models.NewPredictionLog(res.Features, res.Level, res.Recommendation, res.ModelVersion)
		if err := h.history.Record(ctx, entry); err != nil {
			log.Warnf("record prediction: %v", err)
		}
	}
}

func (h *PredictionHandler) respond(c *gin.Context, status int, cache string, resp PredictionResponse) {
	if cache == "" {
		cache = "none"
	}
	predictRequests.WithLabelValues(http.StatusText(status), cache).Inc()
	c.JSON(status, resp)
}

func errorText(err error) string {
	if err == nil {
		return inference.ErrModelUnavailable.Error()
	}
	if errors.Is(err, models.ErrMalformedInput) {
		return err.Error()
	}
	// Load failures carry store paths; clients only learn the model is down.
	return inference.ErrModelUnavailable.Error()
}

// Health reports liveness together with the model's load state.
func Health(predictor Predictor) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{
			"status":  "UP",
			"message": "Traffic classifier API is running",
			"model":   predictor.State().String(),
		}
		if meta, ok := predictor.Metadata(); ok {
			resp["model_version"] = meta.ModelVersion
			resp["model_accuracy"] = meta.Accuracy
		}
		c.JSON(http.StatusOK, resp)
	}
}
