// README: Shared handler utilities (error mapping to HTTP status codes).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"shinua/internal/modules/locks"
	"shinua/internal/modules/task"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func writeTaskError(c *gin.Context, err error) {
	var ve *task.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: ve.Message, Field: ve.Field})
		return
	}
	switch {
	case errors.Is(err, task.ErrNotesRequired):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, task.ErrAuthRequired):
		writeError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, task.ErrNotYourTask),
		errors.Is(err, task.ErrDispatcherOnly),
		errors.Is(err, task.ErrUpdateForbidden),
		errors.Is(err, task.ErrAssignForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, task.ErrTargetUserMissing),
		errors.Is(err, task.ErrNoDriver):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrConflict),
		errors.Is(err, task.ErrInvalidTransition),
		errors.Is(err, locks.ErrLocked):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, task.ErrTooManyAssigned),
		errors.Is(err, task.ErrTooManyClaims):
		writeError(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, task.ErrSubmitterMissing):
		writeError(c, http.StatusInternalServerError, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
