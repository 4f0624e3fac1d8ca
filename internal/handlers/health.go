package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Healthz is the liveness probe. It never touches the shared backend: a
// degraded coordinator is still alive.
func (a *API) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reflects shared-backend reachability. Whether that gates readiness
// is an operator choice (REQUIRE_REDIS); by default the coordinator serves
// in fallback mode.
func (a *API) Readyz(c *gin.Context) {
	reachable := a.ready != nil && a.ready.Reachable()
	body := gin.H{
		"status":      "ready",
		"sharedStore": reachable,
		"required":    a.cfg.RequireRedis,
	}
	if a.cfg.RequireRedis && !reachable {
		body["status"] = "not ready"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
