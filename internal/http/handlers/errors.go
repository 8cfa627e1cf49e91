package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heyjinjung/rmafh-sub000/internal/apierr"
	"github.com/heyjinjung/rmafh-sub000/internal/services"
)

// failService maps a service error to its HTTP status and envelope code.
// Unknown errors become 500 INTERNAL_ERROR with a generic message; the
// original error only reaches the log.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAuditRecordNotFound):
		fail(c, http.StatusNotFound, apierr.CodeNotFound, "no audit record for key")
	case errors.Is(err, services.ErrInvalidFilter):
		fail(c, http.StatusBadRequest, apierr.CodeBadRequest, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, apierr.CodeInternal, "internal server error")
	}
}
