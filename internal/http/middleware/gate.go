package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
)

// AdminGate answers 404 CONSOLE_DISABLED for every route in its group while
// enabled reports false. The flag is read per request so a reloadable source
// can flip it without re-registering routes.
func AdminGate(enabled func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled != nil && enabled() {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusNotFound,
			apierr.New(apierr.CodeConsoleDisabled, "admin console is disabled").
				WithRequestID(RequestIDFrom(c)))
	}
}
