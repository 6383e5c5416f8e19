package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"cityflow/traffic-classifier/classifier"
	"cityflow/traffic-classifier/config"
	"cityflow/traffic-classifier/inference"
	"cityflow/traffic-classifier/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, authRequired bool) (*gin.Engine, *services.AuthService) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.AuthRequired = authRequired
	auth := services.NewAuthService(cfg.JWT)
	// No artifact exists, so the model is unavailable.
	predictor := inference.NewService(classifier.NewFileStore(filepath.Join(t.TempDir(), "missing.bson")))
	return newRouter(cfg, predictor, &services.CacheService{}, services.NewHistoryService(nil), auth), auth
}

func do(router http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouterPublicRoutes(t *testing.T) {
	router, _ := newTestRouter(t, true)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/schema", "", "").Code)

	w := do(router, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRouterPredictRequiresToken(t *testing.T) {
	router, auth := newTestRouter(t, true)

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, "/api/v1/predict", `{}`, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/api/v1/predictions", "", "").Code)

	token, err := auth.GenerateToken("dashboard", "viewer")
	require.NoError(t, err)
	w := do(router, http.MethodPost, "/api/v1/predict", `{"avg_speed":"20"}`, token)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"available":false`)

	w = do(router, http.MethodGet, "/api/v1/predictions", "", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[],"has_more":false}`, w.Body.String())
}

func TestRouterAuthOptional(t *testing.T) {
	router, _ := newTestRouter(t, false)
	w := do(router, http.MethodPost, "/api/v1/predict", `{"hour":"25"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouterServesTrainedModel(t *testing.T) {
	dir := t.TempDir()
	tc := classifier.DefaultTrainConfig()
	tc.DatasetPath = filepath.Join(dir, "traffic_data.csv")
	tc.DefaultRecords = 1500
	tc.Forest.Trees = 25
	store := classifier.NewFileStore(filepath.Join(dir, "traffic_model.bson"))
	_, err := classifier.Train(context.Background(), tc, store)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.AuthRequired = false
	router := newRouter(cfg, inference.NewService(store), &services.CacheService{}, services.NewHistoryService(nil), services.NewAuthService(cfg.JWT))

	w := do(router, http.MethodPost, "/api/v1/predict",
		`{"hour":"8","day_of_week":"Tuesday","road_type":"Urban","weather_condition":"Sunny","avg_speed":"20"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"label":"High"`)
	assert.Contains(t, w.Body.String(), inference.RecommendAlternate)
}
