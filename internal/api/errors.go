package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"referral-ledger/internal/apperr"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrPermission):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func errorBody(err error, status int) gin.H {
	if status == http.StatusInternalServerError {
		return gin.H{"error": "internal error"}
	}
	body := gin.H{"error": err.Error()}
	if field := apperr.FieldOf(err); field != "" {
		body["field"] = field
	}
	return body
}

func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, errorBody(err, status))
}
