package marketplace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"estateagency/ledger"
	"estateagency/session"
)

// ErrInvalidInput classifies failures caused by malformed or out-of-range
// user input. No ledger call is made once it is returned.
var ErrInvalidInput = errors.New("invalid input")

// Kind is the stable outcome label of an operation.
type Kind string

const (
	KindSuccess      Kind = "success"
	KindInvalidInput Kind = "invalid_input"
	KindUnlockFailed Kind = "unlock_failed"
	KindRPCFailure   Kind = "rpc_failure"
	KindInternal     Kind = "internal"
)

// InputError names the offending input.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidInput, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidInput, e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...interface{}) error {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Input errors win over everything else so a request
// rejected before touching the ledger is never reported as a ledger fault.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindSuccess
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, session.ErrUnlockFailed):
		return KindUnlockFailed
	case errors.Is(err, ledger.ErrRPCFailure):
		return KindRPCFailure
	default:
		return KindInternal
	}
}

// Notice renders exactly one user-visible message for a failed operation.
func Notice(err error) string {
	switch KindOf(err) {
	case KindSuccess:
		return ""
	case KindInvalidInput:
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			if inputErr.Field != "" {
				return fmt.Sprintf("Invalid %s: %s.", inputErr.Field, inputErr.Reason)
			}
			return fmt.Sprintf("Invalid input: %s.", inputErr.Reason)
		}
		return "Invalid input."
	case KindUnlockFailed:
		return "Could not unlock the account. Check the account secret."
	case KindRPCFailure:
		var rpcErr *ledger.RPCError
		if errors.As(err, &rpcErr) {
			return "Ledger request failed: " + rpcErr.Error()
		}
		return "Ledger request failed: " + err.Error()
	default:
		return "Unexpected error while processing the request."
	}
}

// Confirmation renders the success message of a transaction-producing
// operation.
func Confirmation(op Operation, receipt common.Hash) string {
	var msg string
	switch op {
	case OpCreateEstate:
		msg = "Estate created."
	case OpCreateAd:
		msg = "Advertisement created."
	case OpBuyEstate:
		msg = "Estate purchased."
	case OpDeposit:
		msg = "Funds deposited."
	case OpWithdraw:
		msg = "Funds withdrawn."
	case OpTransfer:
		msg = "Transfer completed."
	case OpUpdateEstateStatus:
		msg = "Estate status updated."
	case OpUpdateAdStatus:
		msg = "Advertisement status updated."
	case OpLogin:
		return "Signed in."
	case OpUnlock:
		return "Account unlocked."
	case OpLogout:
		return "Signed out."
	default:
		msg = strings.ReplaceAll(string(op), "_", " ") + " completed."
	}
	if receipt == (common.Hash{}) {
		return msg
	}
	return fmt.Sprintf("%s Transaction hash: %s", msg, receipt.Hex())
}
