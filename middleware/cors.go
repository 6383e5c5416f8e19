package middleware

import (
	"strings"
	"time"

	"cityflow/traffic-classifier/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// SetupCORS allows the dashboard origins. The API only serves reads and
// the predict form, so only GET and POST are allowed.
func SetupCORS(cfg config.CORSConfig) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}

	origins := lo.FilterMap(strings.Split(cfg.AllowedOrigins, ","), func(o string, _ int) (string, bool) {
		o = strings.TrimSpace(o)
		return o, o != ""
	})
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		return cors.New(corsCfg)
	}

	corsCfg.AllowOrigins = origins
	corsCfg.AllowCredentials = true
	return cors.New(corsCfg)
}
