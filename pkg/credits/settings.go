package credits

import (
	"context"
	"fmt"
	"strconv"
)

// Compiled-in package catalog. Prices come from the current
// price-per-credit setting at read time.
var packageCatalog = []struct {
	name    string
	credits int
}{
	{name: "starter", credits: 10},
	{name: "standard", credits: 50},
	{name: "pro", credits: 100},
}

// PricePerCredit returns the current configured price. Lookup failures
// (including "not configured") degrade to the compiled-in default so
// pricing never blocks a purchase flow.
func (service *Service) PricePerCredit(ctx context.Context) string {
	setting, err := service.store.GetSetting(ctx, settingPricePerCredit)
	if err != nil || setting.Value == "" {
		service.logOperation(ctx, OperationLog{
			Operation: operationPriceLookup,
			Status:    operationStatusOK,
			Note:      noteDefaultPrice,
			Error:     nil,
		})
		return service.policy.DefaultPricePerCredit
	}
	if _, parseErr := strconv.ParseFloat(setting.Value, 64); parseErr != nil {
		return service.policy.DefaultPricePerCredit
	}
	return setting.Value
}

// UpdatePricePerCredit upserts the price setting, recording the acting admin.
func (service *Service) UpdatePricePerCredit(ctx context.Context, price string, adminUserID int64) error {
	parsed, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not numeric", ErrInvalidPrice, price)
	}
	if parsed <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidPrice)
	}
	operationError := service.store.UpsertSetting(ctx, Setting{
		Key:       settingPricePerCredit,
		Value:     price,
		UpdatedBy: adminUserID,
		UpdatedAt: service.nowFn(),
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationPriceUpdate,
		UserID:    adminUserID,
		Note:      price,
		Error:     operationError,
	})
	return operationError
}

// CreditPackages prices the compiled-in bundle catalog from the current
// price-per-credit.
func (service *Service) CreditPackages(ctx context.Context) []CreditPackage {
	pricePerCredit, err := strconv.ParseFloat(service.PricePerCredit(ctx), 64)
	if err != nil {
		pricePerCredit, _ = strconv.ParseFloat(service.policy.DefaultPricePerCredit, 64)
	}
	packages := make([]CreditPackage, 0, len(packageCatalog))
	for _, bundle := range packageCatalog {
		packages = append(packages, CreditPackage{
			Name:    bundle.name,
			Credits: bundle.credits,
			Price:   strconv.FormatFloat(pricePerCredit*float64(bundle.credits), 'f', 2, 64),
		})
	}
	return packages
}
