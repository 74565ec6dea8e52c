package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sai/internal/ledger"
)

func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindAuth:
		return http.StatusUnauthorized
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the JSON error body for err. Errors that are not ledger errors are
// reported as internal without leaking their text.
func respondError(c *gin.Context, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		le = ledger.NewError(ledger.KindStorage, "internal_error", "internal error", err)
	}
	_ = c.Error(err)
	message := le.Message
	if le.Kind == ledger.KindStorage {
		message = "internal error"
	}
	c.AbortWithStatusJSON(statusFor(le.Kind), gin.H{"error": message, "code": le.Code})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
}
