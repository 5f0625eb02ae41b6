package consensus

import (
	"errors"
	"fmt"
)

// Reasons a header or block is rejected. ValidationError wraps exactly one of these.
var (
	ErrParentHashMismatch      = errors.New("parent hash mismatch")
	ErrNumberMismatch          = errors.New("block number is not parent + 1")
	ErrTimestampInPast         = errors.New("timestamp not after parent")
	ErrExtraDataTooLong        = errors.New("extra data too long")
	ErrGasUsedExceedsLimit     = errors.New("gas used exceeds gas limit")
	ErrInvalidGasLimit         = errors.New("invalid gas limit")
	ErrBaseFeeMissing          = errors.New("base fee missing")
	ErrBaseFeeMismatch         = errors.New("base fee mismatch")
	ErrBaseFeeUnexpected       = errors.New("base fee before london")
	ErrWithdrawalsRootMissing  = errors.New("withdrawals root missing")
	ErrWithdrawalsUnexpected   = errors.New("withdrawals root before shanghai")
	ErrInvalidDifficulty       = errors.New("non-zero difficulty after the merge")
	ErrOmmersHashMismatch      = errors.New("ommers hash mismatch")
	ErrTransactionRootMismatch = errors.New("transaction root mismatch")
)

// ValidationError describes why a header at Number was rejected.
type ValidationError struct {
	Kind   error
	Number uint64
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("block #%d: %v", e.Number, e.Kind)
	}
	return fmt.Sprintf("block #%d: %v: %s", e.Number, e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalid(kind error, number uint64, format string, args ...interface{}) error {
	return &ValidationError{Kind: kind, Number: number, Detail: fmt.Sprintf(format, args...)}
}
