package httpserver

import (
	"errors"
	"net/http"

	"github.com/Avhad-Enterprises/mmv-credits/pkg/credits"
	"github.com/gin-gonic/gin"
)

const (
	errorCodeInvalidAmount       = "invalid_amount"
	errorCodeInvalidPayload      = "invalid_payload"
	errorCodeInvalidPrice        = "invalid_price"
	errorCodeInvalidRefundReason = "invalid_refund_reason"
	errorCodeProfileNotFound     = "profile_not_found"
	errorCodeApplicationNotFound = "application_not_found"
	errorCodeInsufficientCredits = "insufficient_credits"
	errorCodeMaxBalanceExceeded  = "max_balance_exceeded"
	errorCodeRefundNotEligible   = "refund_not_eligible"
	errorCodeAlreadyRefunded     = "already_refunded"
	errorCodePaymentProcessed    = "payment_already_processed"
	errorCodeInternal            = "internal_error"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// respondError translates domain errors into HTTP-style failures.
func respondError(ctx *gin.Context, err error) {
	status, code := mapToHTTPError(err)
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func mapToHTTPError(source error) (int, string) {
	switch {
	case errors.Is(source, credits.ErrInvalidAmount):
		return http.StatusBadRequest, errorCodeInvalidAmount
	case errors.Is(source, credits.ErrInvalidPrice):
		return http.StatusBadRequest, errorCodeInvalidPrice
	case errors.Is(source, credits.ErrInvalidRefundReason):
		return http.StatusBadRequest, errorCodeInvalidRefundReason
	case errors.Is(source, credits.ErrInvalidTransactionType):
		return http.StatusBadRequest, errorCodeInvalidPayload
	case errors.Is(source, credits.ErrProfileNotFound):
		return http.StatusNotFound, errorCodeProfileNotFound
	case errors.Is(source, credits.ErrApplicationNotFound):
		return http.StatusNotFound, errorCodeApplicationNotFound
	case errors.Is(source, credits.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorCodeInsufficientCredits
	case errors.Is(source, credits.ErrMaxBalanceExceeded):
		return http.StatusConflict, errorCodeMaxBalanceExceeded
	case errors.Is(source, credits.ErrAlreadyRefunded):
		return http.StatusConflict, errorCodeAlreadyRefunded
	case errors.Is(source, credits.ErrRefundNotEligible):
		return http.StatusUnprocessableEntity, errorCodeRefundNotEligible
	case errors.Is(source, credits.ErrPaymentAlreadyProcessed):
		return http.StatusConflict, errorCodePaymentProcessed
	}
	return http.StatusInternalServerError, errorCodeInternal
}
