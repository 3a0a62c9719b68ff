package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackclass/backend/internal/mirror"
	"github.com/stackclass/backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps a service-layer failure onto the wire: tagged
// errors keep their status and code, upstream git failures surface as a
// bad gateway, anything else is an opaque 500.
func RespondServiceError(c *gin.Context, err error) {
	if apiErr := apierr.From(err); apiErr != nil {
		RespondError(c, apiErr.Status, apiErr.Code, err)
		return
	}

	var syncErr *mirror.SyncError
	if errors.As(err, &syncErr) {
		RespondError(c, http.StatusBadGateway, "upstream_sync_failed", err)
		return
	}

	RespondError(c, http.StatusInternalServerError, "internal_error", err)
}
