package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
)

// Health is the liveness check. It never touches dependencies.
//
// @ID          health
// @Summary     Liveness
// @Tags        Health
// @Produce     json
// @Success     200  {object} map[string]string
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the audit database answers. A failing check yields
// 503 UNAVAILABLE.
//
// @ID          ready
// @Summary     Readiness
// @Description Pings the audit database.
// @Tags        Health
// @Produce     json
// @Success     200  {object} map[string]string
// @Failure     503  {object} apierr.Envelope "Audit database unavailable"
// @Router      /ready [get]
func (h *Handlers) Ready(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			_ = c.Error(err)
			fail(c, http.StatusServiceUnavailable, apierr.CodeUnavailable, "audit database unavailable")
			return
		}
	}
	ok(c, http.StatusOK, gin.H{"status": "ready"})
}
