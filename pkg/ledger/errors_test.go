package ledger

import (
	"errors"
	"testing"
)

const (
	operationName    = "ledger"
	subjectName      = "entry"
	codeName         = "invalid"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestInsufficientBalanceErrorMessage(test *testing.T) {
	test.Parallel()
	insufficient := &InsufficientBalanceError{Required: 12, Balance: 5}
	if !errors.Is(insufficient, ErrInsufficientBalance) {
		test.Fatalf("expected errors.Is to match ErrInsufficientBalance")
	}
	expected := "insufficient balance: need 7 more tokens, have 5"
	if insufficient.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, insufficient.Error())
	}
	if (&InsufficientBalanceError{Required: 1, Balance: 4}).Shortfall() != 0 {
		test.Fatalf("expected non-negative shortfall")
	}
}

func TestStoreFailureKeepsCause(test *testing.T) {
	test.Parallel()
	cause := errors.New(baseErrorMessage)
	failure := StoreFailure(cause)
	if !errors.Is(failure, ErrStoreUnavailable) || !errors.Is(failure, cause) {
		test.Fatalf("expected both sentinel and cause, got %v", failure)
	}
	if StoreFailure(nil) != nil {
		test.Fatalf("expected nil for nil cause")
	}
}
