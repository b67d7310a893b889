package credits

import (
	"fmt"
	"time"
)

// Policy carries the injectable credits configuration: balance limits,
// refund windows, and the compiled-in pricing default.
type Policy struct {
	MaxBalance               int
	MaxSinglePurchase        int
	FullRefundWindowMinutes  int
	PartialRefundWindowHours int
	PartialRefundPercent     int
	SignupBonusCredits       int
	DefaultPricePerCredit    string
	FreelancerRoles          []string
}

// DefaultPolicy returns the compiled-in defaults used when no
// configuration overrides are supplied.
func DefaultPolicy() Policy {
	return Policy{
		MaxBalance:               1000,
		MaxSinglePurchase:        500,
		FullRefundWindowMinutes:  30,
		PartialRefundWindowHours: 24,
		PartialRefundPercent:     50,
		SignupBonusCredits:       5,
		DefaultPricePerCredit:    "10",
		FreelancerRoles:          []string{"freelancer", "videographer", "video_editor"},
	}
}

// Validate ensures the policy contains sane values.
func (policy Policy) Validate() error {
	if policy.MaxBalance <= 0 {
		return fmt.Errorf("%w: max balance must be positive", ErrInvalidServiceConfig)
	}
	if policy.MaxSinglePurchase <= 0 {
		return fmt.Errorf("%w: max single purchase must be positive", ErrInvalidServiceConfig)
	}
	if policy.FullRefundWindowMinutes < 0 {
		return fmt.Errorf("%w: full refund window must not be negative", ErrInvalidServiceConfig)
	}
	if policy.PartialRefundWindowHours < 0 {
		return fmt.Errorf("%w: partial refund window must not be negative", ErrInvalidServiceConfig)
	}
	if policy.PartialRefundPercent < 0 || policy.PartialRefundPercent > 100 {
		return fmt.Errorf("%w: partial refund percent must be within 0..100", ErrInvalidServiceConfig)
	}
	if policy.SignupBonusCredits < 0 {
		return fmt.Errorf("%w: signup bonus must not be negative", ErrInvalidServiceConfig)
	}
	return nil
}

// FullRefundWindow returns the 100%-refund window as a duration.
func (policy Policy) FullRefundWindow() time.Duration {
	return time.Duration(policy.FullRefundWindowMinutes) * time.Minute
}

// PartialRefundWindow returns the partial-refund window as a duration.
func (policy Policy) PartialRefundWindow() time.Duration {
	return time.Duration(policy.PartialRefundWindowHours) * time.Hour
}

// IsFreelancerRole reports whether a role is eligible for the signup bonus.
func (policy Policy) IsFreelancerRole(roleName string) bool {
	for _, role := range policy.FreelancerRoles {
		if role == roleName {
			return true
		}
	}
	return false
}
