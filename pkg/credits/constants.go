package credits

const (
	operationAddCredits  = "add_credits"
	operationAdminAdd    = "admin_add_credits"
	operationDeduct      = "deduct_credits"
	operationAdminDeduct = "admin_deduct_credits"
	operationRefund      = "process_refund"
	operationBatchRefund = "project_cancellation_refunds"
	operationSignupBonus = "signup_bonus"
	operationPriceLookup = "price_per_credit"
	operationPriceUpdate = "update_price_per_credit"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	noteCeilingBypassed = "max balance ceiling bypassed for paid top-up"
	noteDefaultPrice    = "settings lookup failed, using compiled-in default price"

	settingPricePerCredit = "price_per_credit"
)
