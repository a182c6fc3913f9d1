package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// unmatchedRoute labels requests no bridge route handled. Raw paths never
// become metric labels.
const unmatchedRoute = "unmatched"

// RouteLabel is the registered route pattern for c, or "unmatched".
func RouteLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

// BridgeAccess logs and counts each bridge request once its handler chain
// returns. Metric scrapes log at debug so they stay out of info output.
func BridgeAccess(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		route := RouteLabel(c)
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case route == "/metrics":
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		if route == unmatchedRoute {
			event = event.Str("raw_path", c.Request.URL.Path)
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("remote", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("bridge request")
	}
}
