package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/abelbrown/contestare/internal/auth"
	"github.com/abelbrown/contestare/internal/catalog"
	"github.com/abelbrown/contestare/internal/contest"
	"github.com/abelbrown/contestare/internal/logging"
	"github.com/abelbrown/contestare/internal/payment"
	"github.com/abelbrown/contestare/internal/store"
	"github.com/abelbrown/contestare/internal/validation"
)

// statusOf maps a service error to an HTTP status and client message.
func statusOf(err error) (int, string) {
	if ve, ok := validation.As(err); ok {
		return http.StatusBadRequest, ve.Error()
	}

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, auth.ErrInactive):
		return http.StatusForbidden, "account disabled"
	case errors.Is(err, catalog.ErrPremiumRequired):
		return http.StatusForbidden, catalog.ErrPremiumRequired.Error()
	case errors.Is(err, catalog.ErrAlreadyOwned):
		return http.StatusBadRequest, catalog.ErrAlreadyOwned.Error()
	case errors.Is(err, contest.ErrNotAnalyzed):
		return http.StatusBadRequest, contest.ErrNotAnalyzed.Error()
	case errors.Is(err, contest.ErrNoDocument):
		return http.StatusNotFound, contest.ErrNoDocument.Error()
	case errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest, payment.ErrInvalidAmount.Error()
	case errors.Is(err, payment.ErrNoSubscription):
		return http.StatusNotFound, payment.ErrNoSubscription.Error()
	case errors.Is(err, payment.ErrSubscriptionExpired):
		return http.StatusNotFound, payment.ErrSubscriptionExpired.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "already exists"
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError responds with {"error": msg}. Unexpected errors are logged and
// hidden from the client.
func writeError(c *gin.Context, err error) {
	status, msg := statusOf(err)
	if status == http.StatusInternalServerError {
		logging.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"err", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// idParam parses the :id path segment. It writes a 400 and returns false on
// failure.
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

// bindJSON decodes the request body. It writes a 400 and returns false on
// failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if _, ok := validation.As(err); ok {
			writeError(c, err)
			return false
		}
		badRequest(c, "invalid request body")
		return false
	}
	return true
}
