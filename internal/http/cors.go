package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// corsHeaders are the request headers a browser client of the key manager
// needs: admin bearer tokens and attestation receipts.
var corsHeaders = []string{"Authorization", "Content-Type", "X-Attestation-Receipt"}

// createCORSMiddleware returns nil unless CORS is enabled with at least one
// usable origin. Enclaves and replicas call the key manager directly, so only
// operator dashboards ever need it. Credentials stay off because no route
// reads cookies.
func createCORSMiddleware(enabled bool, allowOriginsStr string, logger *slog.Logger) gin.HandlerFunc {
	if !enabled {
		return nil
	}

	origins := parseOrigins(allowOriginsStr)
	if len(origins) == 0 {
		logger.Warn("CORS enabled without usable origins, not applied")
		return nil
	}

	logger.Info("CORS enabled", slog.Any("origins", origins))

	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:  corsHeaders,
		ExposeHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:        12 * time.Hour,
	})
}

// parseOrigins splits a comma-separated list and keeps absolute http(s)
// origins. A wildcard is dropped: secrets are never served to any origin.
func parseOrigins(originsStr string) []string {
	var origins []string
	for part := range strings.SplitSeq(originsStr, ",") {
		origin := strings.TrimRight(strings.TrimSpace(part), "/")
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.Path != "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
