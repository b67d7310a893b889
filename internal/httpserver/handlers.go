package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Avhad-Enterprises/mmv-credits/pkg/credits"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type httpHandler struct {
	logger  *zap.Logger
	service *credits.Service
}

type balancePayload struct {
	UserID                int64 `json:"user_id"`
	CreditsBalance        int   `json:"credits_balance"`
	TotalCreditsPurchased int   `json:"total_credits_purchased"`
	CreditsUsed           int   `json:"credits_used"`
	SignupBonusClaimed    bool  `json:"signup_bonus_claimed"`
}

type entryPayload struct {
	TransactionID int64     `json:"transaction_id"`
	Type          string    `json:"transaction_type"`
	Amount        int       `json:"amount"`
	BalanceBefore int       `json:"balance_before"`
	BalanceAfter  int       `json:"balance_after"`
	ReferenceType string    `json:"reference_type,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

func balanceToPayload(balance credits.Balance) balancePayload {
	return balancePayload{
		UserID:                balance.UserID,
		CreditsBalance:        balance.CreditsBalance,
		TotalCreditsPurchased: balance.TotalCreditsPurchased,
		CreditsUsed:           balance.CreditsUsed,
		SignupBonusClaimed:    balance.SignupBonusClaimed,
	}
}

func entryToPayload(entry credits.Entry) entryPayload {
	return entryPayload{
		TransactionID: entry.TransactionID,
		Type:          entry.Type.String(),
		Amount:        entry.Amount,
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
		ReferenceType: string(entry.Reference.Kind),
		ReferenceID:   entry.Reference.ID,
		Description:   entry.Description,
		CreatedAt:     entry.CreatedAt,
	}
}

func userIDParam(ctx *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(ctx.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "user_id must be a positive integer"))
		return 0, false
	}
	return userID, true
}

func (handler *httpHandler) handleEnsureProfile(ctx *gin.Context) {
	userID, ok := userIDParam(ctx)
	if !ok {
		return
	}
	if err := handler.service.EnsureProfile(ctx.Request.Context(), userID); err != nil {
		respondError(ctx, err)
		return
	}
	balance, err := handler.service.Balance(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceToPayload(balance))
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := userIDParam(ctx)
	if !ok {
		return
	}
	balance, err := handler.service.Balance(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceToPayload(balance))
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	userID, ok := userIDParam(ctx)
	if !ok {
		return
	}
	filter, err := historyFilterFromQuery(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	entries, err := handler.service.History(ctx.Request.Context(), userID, filter)
	if err != nil {
		respondError(ctx, err)
		return
	}
	total, err := handler.service.HistoryCount(ctx.Request.Context(), userID, filter)
	if err != nil {
		respondError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryToPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transactions": payload,
		"total":        total,
	})
}

func historyFilterFromQuery(ctx *gin.Context) (credits.HistoryFilter, error) {
	filter := credits.HistoryFilter{}
	if raw := ctx.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, err
		}
		filter.Limit = limit
	}
	if raw := ctx.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filter, err
		}
		filter.Offset = offset
	}
	if raw := ctx.Query("type"); raw != "" {
		entryType, err := credits.ParseTransactionType(raw)
		if err != nil {
			return filter, err
		}
		filter.Type = &entryType
	}
	if raw := ctx.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}
	if raw := ctx.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}
	return filter, nil
}

type signupBonusRequest struct {
	Role string `json:"role"`
}

func (handler *httpHandler) handleSignupBonus(ctx *gin.Context) {
	userID, ok := userIDParam(ctx)
	if !ok {
		return
	}
	request := signupBonusRequest{}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	result := handler.service.GiveSignupBonus(ctx.Request.Context(), userID, request.Role)
	ctx.JSON(http.StatusOK, gin.H{
		"success":       result.Success,
		"credits_added": result.CreditsAdded,
		"message":       result.Message,
	})
}

type deductRequest struct {
	UserID    int64 `json:"user_id"`
	Amount    int   `json:"amount"`
	ProjectID int64 `json:"project_id"`
}

func (handler *httpHandler) handleDeduct(ctx *gin.Context) {
	request := deductRequest{}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	result, err := handler.service.DeductCredits(ctx.Request.Context(), request.UserID, request.Amount, request.ProjectID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id": result.TransactionID,
		"new_balance":    result.NewBalance,
		"credits_used":   result.CreditsUsed,
	})
}

type paymentWebhookRequest struct {
	UserID        int64  `json:"user_id"`
	Credits       int    `json:"credits"`
	Gateway       string `json:"gateway"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Metadata      string `json:"metadata"`
}

// handlePaymentWebhook credits a purchase exactly once per gateway
// transaction id. Replayed webhooks return the original ledger entry.
func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	request := paymentWebhookRequest{}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	if request.TransactionID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "transaction_id is required"))
		return
	}

	processed, err := handler.service.IsPaymentProcessed(ctx.Request.Context(), request.TransactionID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	if processed {
		handler.respondPaymentReplay(ctx, request.TransactionID)
		return
	}

	orderID := request.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	payment := &credits.PaymentDetails{
		Gateway:       request.Gateway,
		OrderID:       orderID,
		TransactionID: request.TransactionID,
		Amount:        request.Amount,
		Currency:      request.Currency,
		Metadata:      request.Metadata,
	}
	result, err := handler.service.AddCredits(ctx.Request.Context(), request.UserID, request.Credits, payment)
	if err != nil {
		// A concurrent webhook delivery may have won the unique-index race.
		if processedNow, checkErr := handler.service.IsPaymentProcessed(ctx.Request.Context(), request.TransactionID); checkErr == nil && processedNow {
			handler.respondPaymentReplay(ctx, request.TransactionID)
			return
		}
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"already_processed": false,
		"transaction_id":    result.TransactionID,
		"new_balance":       result.NewBalance,
	})
}

func (handler *httpHandler) respondPaymentReplay(ctx *gin.Context, paymentTransactionID string) {
	entry, found, err := handler.service.PaymentEntry(ctx.Request.Context(), paymentTransactionID)
	if err != nil || !found {
		ctx.JSON(http.StatusOK, gin.H{"already_processed": true})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"already_processed": true,
		"transaction_id":    entry.TransactionID,
		"new_balance":       entry.BalanceAfter,
	})
}

func (handler *httpHandler) handleRefundEligibility(ctx *gin.Context) {
	applicationID, err := strconv.ParseInt(ctx.Query("application_id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "application_id must be a positive integer"))
		return
	}
	userID, err := strconv.ParseInt(ctx.Query("user_id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "user_id must be a positive integer"))
		return
	}
	reason, err := credits.ParseRefundReason(ctx.Query("reason"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	eligibility, err := handler.service.CheckRefundEligibility(ctx.Request.Context(), applicationID, userID, reason)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"eligible":       eligibility.Eligible,
		"refund_amount":  eligibility.Amount,
		"refund_percent": eligibility.Percent,
		"reason":         eligibility.Reason,
	})
}

type refundRequest struct {
	ApplicationID int64  `json:"application_id"`
	UserID        int64  `json:"user_id"`
	Reason        string `json:"reason"`
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	request := refundRequest{}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	reason, err := credits.ParseRefundReason(request.Reason)
	if err != nil {
		respondError(ctx, err)
		return
	}
	result, err := handler.service.ProcessRefund(ctx.Request.Context(), request.ApplicationID, request.UserID, reason, nil)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":         result.Success,
		"refunded_amount": result.RefundedAmount,
		"new_balance":     result.NewBalance,
		"message":         result.Message,
	})
}

func (handler *httpHandler) handlePackages(ctx *gin.Context) {
	packages := handler.service.CreditPackages(ctx.Request.Context())
	payload := make([]gin.H, 0, len(packages))
	for _, creditPackage := range packages {
		payload = append(payload, gin.H{
			"name":    creditPackage.Name,
			"credits": creditPackage.Credits,
			"price":   creditPackage.Price,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": payload})
}

func (handler *httpHandler) handleGetPrice(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"price_per_credit": handler.service.PricePerCredit(ctx.Request.Context())})
}

type adminMutationRequest struct {
	UserID int64  `json:"user_id"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

func (handler *httpHandler) handleAdminAdd(ctx *gin.Context) {
	request := adminMutationRequest{}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	action := credits.AdminAction{AdminUserID: adminUserID(ctx), Reason: request.Reason}
	result, err := handler.service.AdminAddCredits(ctx.Request.Context(), request.UserID, request.Amount, action)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id": result.TransactionID,
		"new_balance":    result.NewBalance,
	})
}

func (handler *httpHandler) handleAdminDeduct(ctx *gin.Context) {
	request := adminMutationRequest{}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	action := credits.AdminAction{AdminUserID: adminUserID(ctx), Reason: request.Reason}
	result, err := handler.service.AdminDeductCredits(ctx.Request.Context(), request.UserID, request.Amount, action)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"transaction_id": result.TransactionID,
		"new_balance":    result.NewBalance,
	})
}

type projectRefundRequest struct {
	Reason string `json:"reason"`
}

func (handler *httpHandler) handleProjectRefunds(ctx *gin.Context) {
	projectID, err := strconv.ParseInt(ctx.Param("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "project_id must be a positive integer"))
		return
	}
	request := projectRefundRequest{}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	action := &credits.AdminAction{AdminUserID: adminUserID(ctx), Reason: request.Reason}
	result, err := handler.service.ProcessProjectCancellationRefunds(ctx.Request.Context(), projectID, action)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"refunded": result.Refunded,
		"total":    result.Total,
	})
}

type priceUpdateRequest struct {
	Price string `json:"price"`
}

func (handler *httpHandler) handleUpdatePrice(ctx *gin.Context) {
	request := priceUpdateRequest{}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, err.Error()))
		return
	}
	if err := handler.service.UpdatePricePerCredit(ctx.Request.Context(), request.Price, adminUserID(ctx)); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"price_per_credit": request.Price})
}
