package credits

import (
	"context"
	"errors"
)

var errBonusAlreadyClaimed = errors.New("signup bonus already claimed")

// GiveSignupBonus issues the one-time signup credit for qualifying new
// accounts. It never returns an error: any failure is swallowed into the
// result so a bonus problem cannot abort account registration. Invoke it
// through Service.WithTx from the registration flow to share the profile
// creation transaction.
func (service *Service) GiveSignupBonus(ctx context.Context, userID int64, roleName string) BonusResult {
	if !service.policy.IsFreelancerRole(roleName) {
		return BonusResult{Success: false, Message: "role not eligible for signup bonus"}
	}
	bonus := service.policy.SignupBonusCredits
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		balance, err := txStore.GetBalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if balance.SignupBonusClaimed {
			return errBonusAlreadyClaimed
		}
		updated := balance
		updated.CreditsBalance = balance.CreditsBalance + bonus
		updated.SignupBonusClaimed = true
		if err := txStore.UpdateBalance(ctx, updated); err != nil {
			return err
		}
		_, err = txStore.InsertEntry(ctx, Entry{
			UserID:        userID,
			Type:          TransactionSignupBonus,
			Amount:        bonus,
			BalanceBefore: balance.CreditsBalance,
			BalanceAfter:  updated.CreditsBalance,
			Reference:     Reference{Kind: ReferenceSignup, ID: formatInt64(userID)},
			CreatedAt:     service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSignupBonus,
		UserID:    userID,
		Amount:    bonus,
		Error:     operationError,
	})
	if operationError != nil {
		if errors.Is(operationError, errBonusAlreadyClaimed) {
			return BonusResult{Success: false, Message: "signup bonus already claimed"}
		}
		return BonusResult{Success: false, Message: operationError.Error()}
	}
	return BonusResult{Success: true, CreditsAdded: bonus, Message: "signup bonus credited"}
}
