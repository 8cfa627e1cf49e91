// Package handlers provides the console backend's own HTTP endpoints (audit
// trail, console configuration, health) and the response helpers shared with
// the router.
//
// Every failure uses the nested apierr envelope the proxy also emits, so the
// browser bundle needs a single extraction path:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "error": {
//	    "code": "NOT_FOUND",
//	    "message": "route not found",
//	    "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	  }
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
	"github.com/heyjinjung/rmafh-sub000/internal/http/middleware"
)

// fail aborts the request with an error envelope carrying the request ID.
// Server errors (>=500) are logged with the request-scoped logger.
func fail(c *gin.Context, status int, code apierr.Code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", string(code)).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status,
		apierr.New(code, msg).WithRequestID(middleware.RequestIDFrom(c)))
}

// Fail is the exported variant of fail for router fallbacks.
func Fail(c *gin.Context, status int, code apierr.Code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
