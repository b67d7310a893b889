package credits

import (
	"context"
	"errors"
	"testing"
)

func TestPricePerCreditFallsBackToDefault(test *testing.T) {
	test.Parallel()
	ctx := context.Background()

	store := newStubStore(test, 0)
	service := mustNewService(test, store)
	if price := service.PricePerCredit(ctx); price != DefaultPolicy().DefaultPricePerCredit {
		test.Fatalf("expected default price for missing setting, got %q", price)
	}

	store.settingErr = errors.New("settings table missing")
	if price := service.PricePerCredit(ctx); price != DefaultPolicy().DefaultPricePerCredit {
		test.Fatalf("expected default price on lookup failure, got %q", price)
	}

	store.settingErr = nil
	store.settings[settingPricePerCredit] = Setting{Key: settingPricePerCredit, Value: "not-a-number"}
	if price := service.PricePerCredit(ctx); price != DefaultPolicy().DefaultPricePerCredit {
		test.Fatalf("expected default price for corrupt value, got %q", price)
	}

	store.settings[settingPricePerCredit] = Setting{Key: settingPricePerCredit, Value: "12.5"}
	if price := service.PricePerCredit(ctx); price != "12.5" {
		test.Fatalf("expected configured price, got %q", price)
	}
}

func TestUpdatePricePerCredit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	service := mustNewService(test, store)
	ctx := context.Background()

	if err := service.UpdatePricePerCredit(ctx, "15", 9); err != nil {
		test.Fatalf("update price: %v", err)
	}
	setting := store.settings[settingPricePerCredit]
	if setting.Value != "15" || setting.UpdatedBy != 9 {
		test.Fatalf("unexpected stored setting: %+v", setting)
	}
	if !setting.UpdatedAt.Equal(fixedNow) {
		test.Fatalf("expected updated_at %v, got %v", fixedNow, setting.UpdatedAt)
	}

	for _, price := range []string{"abc", "0", "-4"} {
		if err := service.UpdatePricePerCredit(ctx, price, 9); !errors.Is(err, ErrInvalidPrice) {
			test.Fatalf("price %q: expected ErrInvalidPrice, got %v", price, err)
		}
	}
}

func TestCreditPackagesPricedFromSetting(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	store.settings[settingPricePerCredit] = Setting{Key: settingPricePerCredit, Value: "12.5"}
	service := mustNewService(test, store)

	packages := service.CreditPackages(context.Background())
	if len(packages) != 3 {
		test.Fatalf("expected 3 packages, got %d", len(packages))
	}
	expected := map[string]string{
		"starter":  "125.00",
		"standard": "625.00",
		"pro":      "1250.00",
	}
	for _, creditPackage := range packages {
		if price, ok := expected[creditPackage.Name]; !ok || creditPackage.Price != price {
			test.Fatalf("unexpected package: %+v", creditPackage)
		}
	}
}
