package storage

import (
	"context"
	"fmt"

	"github.com/matchbook-labs/matchbook/internal/common"
	"github.com/matchbook-labs/matchbook/internal/model"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("%w: nil context", common.ErrValidation)
	}
	return ctx.Err()
}

func validateString(value, field string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must not be empty", common.ErrValidation, field)
	}
	return nil
}

func validateReceipt(receipt *model.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: nil receipt", common.ErrValidation)
	}
	if receipt.ID == "" {
		return fmt.Errorf("%w: receipt requires an id", common.ErrValidation)
	}
	if receipt.MerchantName == "" {
		return fmt.Errorf("%w: receipt %s requires a merchant name", common.ErrValidation, receipt.ID)
	}
	if receipt.Date.IsZero() {
		return fmt.Errorf("%w: receipt %s requires a date", common.ErrValidation, receipt.ID)
	}
	if receipt.Amount < 0 {
		return fmt.Errorf("%w: receipt %s has a negative amount", common.ErrValidation, receipt.ID)
	}
	return nil
}

func validateTransactions(transactions []model.Transaction) error {
	for i := range transactions {
		t := &transactions[i]
		if t.ID == "" {
			return fmt.Errorf("%w: transaction at index %d requires an id", common.ErrValidation, i)
		}
		if t.Date.IsZero() {
			return fmt.Errorf("%w: transaction %s requires a date", common.ErrValidation, t.ID)
		}
	}
	return nil
}

func validateProfile(profile *model.MerchantProfile) error {
	if profile == nil {
		return fmt.Errorf("%w: nil profile", common.ErrValidation)
	}
	if profile.Name == "" {
		return fmt.Errorf("%w: profile requires a name", common.ErrValidation)
	}
	if profile.Confidence < 0 || profile.Confidence > 1 {
		return fmt.Errorf("%w: profile %s confidence out of range", common.ErrValidation, profile.Name)
	}
	return nil
}
