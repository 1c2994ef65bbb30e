package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrTierSoldOut             = errors.New("tier sold out")
	ErrCampaignNotActive       = errors.New("campaign not active")
	ErrCampaignNotFound        = errors.New("campaign not found")
	ErrRewardTierNotFound      = errors.New("reward tier not found")
	ErrRewardTierInactive      = errors.New("reward tier inactive")
	ErrPledgeBelowTierPrice    = errors.New("pledge amount below tier price")
	ErrSelfPledge              = errors.New("creator cannot pledge to own campaign")
	ErrIdempotencyKeyConflict  = errors.New("idempotency key used by another user")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrPledgeNotFound          = errors.New("pledge not found")
	ErrPurchaseIntentNotFound  = errors.New("purchase intent not found")
	ErrPurchaseIntentClosed    = errors.New("purchase intent closed")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidWalletID         = errors.New("invalid wallet id")
	ErrInvalidOrderID          = errors.New("invalid order id")
	ErrInvalidCampaignID       = errors.New("invalid campaign id")
	ErrInvalidRewardTierID     = errors.New("invalid reward tier id")
	ErrInvalidPledgeID         = errors.New("invalid pledge id")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidAmountDT         = errors.New("invalid amount dt")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidCampaignStatus   = errors.New("invalid campaign status")
	ErrInvalidPurchaseStatus   = errors.New("invalid purchase status")
	ErrInvalidPledgeStatus     = errors.New("invalid pledge status")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrSupportMessageTooLong   = errors.New("support message too long")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
