package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientBalance        = errors.New("insufficient balance")
	ErrConfigurationGap           = errors.New("configuration gap")
	ErrStoreUnavailable           = errors.New("store unavailable")
	ErrUnknownAccount             = errors.New("unknown account")
	ErrUnknownTransaction         = errors.New("unknown transaction")
	ErrUnknownPurchase            = errors.New("unknown purchase")
	ErrDuplicatePaymentReference  = errors.New("duplicate payment reference")
	ErrPaymentReferenceConflict   = errors.New("payment reference belongs to another account")
	ErrPurchaseExists             = errors.New("purchase already exists")
	ErrInvalidAccountID           = errors.New("invalid account id")
	ErrInvalidFeatureKey          = errors.New("invalid feature key")
	ErrInvalidPaymentReference    = errors.New("invalid payment reference")
	ErrInvalidPackageID           = errors.New("invalid package id")
	ErrInvalidTransactionID       = errors.New("invalid transaction id")
	ErrInvalidTokenAmount         = errors.New("invalid token amount")
	ErrInvalidPrice               = errors.New("invalid price")
	ErrInvalidTransactionType     = errors.New("invalid transaction type")
	ErrInvalidPurchaseStatus      = errors.New("invalid purchase status")
	ErrInvalidMetadataJSON        = errors.New("invalid metadata json")
	ErrInvalidServiceConfig       = errors.New("invalid service config")
	ErrUnsupportedTransactionType = errors.New("unsupported transaction type")
)

// InsufficientBalanceError reports a debit rejected at commit time.
type InsufficientBalanceError struct {
	Required TokenAmount
	Balance  TokenAmount
}

// Error returns the user-facing shortfall message.
func (insufficient *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%v: need %d more tokens, have %d", ErrInsufficientBalance, insufficient.Shortfall(), insufficient.Balance)
}

// Shortfall is the number of tokens missing to cover the cost.
func (insufficient *InsufficientBalanceError) Shortfall() int64 {
	missing := insufficient.Required.Int64() - insufficient.Balance.Int64()
	if missing < 0 {
		return 0
	}
	return missing
}

// Unwrap exposes ErrInsufficientBalance to errors.Is.
func (insufficient *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

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

// StoreFailure marks an infrastructure error as ErrStoreUnavailable while keeping the cause.
func StoreFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
