package marketplace

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"estateagency/ledger"
	"estateagency/session"
)

func TestKindOf(t *testing.T) {
	rpcErr := &ledger.RPCError{Method: "getAds", Cause: errors.New("timeout")}
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindSuccess},
		{name: "input", err: invalid("size", "must be positive"), want: KindInvalidInput},
		{name: "unlock", err: fmt.Errorf("%w: bad secret", session.ErrUnlockFailed), want: KindUnlockFailed},
		{name: "unlock over transport", err: fmt.Errorf("%w: %w", session.ErrUnlockFailed, rpcErr), want: KindUnlockFailed},
		{name: "rpc", err: rpcErr, want: KindRPCFailure},
		{name: "wrapped rpc", err: fmt.Errorf("list: %w", rpcErr), want: KindRPCFailure},
		{name: "other", err: errors.New("boom"), want: KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestNotice(t *testing.T) {
	require.Empty(t, Notice(nil))
	require.Equal(t, "Invalid size: must be positive.", Notice(invalid("size", "must be positive")))
	require.Equal(t, "Invalid input: bad.", Notice(invalid("", "bad")))
	require.Equal(t, "Invalid input.", Notice(ErrInvalidInput))
	require.Equal(t, "Could not unlock the account. Check the account secret.", Notice(session.ErrUnlockFailed))
	require.Equal(t, "Ledger request failed: buyEstate: execution reverted: sold out",
		Notice(&ledger.RPCError{Method: "buyEstate", Reason: "sold out", Cause: errors.New("execution reverted")}))
	require.Equal(t, "Unexpected error while processing the request.", Notice(errors.New("boom")))
}

func TestConfirmation(t *testing.T) {
	receipt := common.HexToHash("0x01")
	require.Equal(t, "Funds deposited. Transaction hash: "+receipt.Hex(), Confirmation(OpDeposit, receipt))
	require.Equal(t, "Estate status updated.", Confirmation(OpUpdateEstateStatus, common.Hash{}))
	require.Equal(t, "Signed in.", Confirmation(OpLogin, receipt))
	require.Equal(t, "Current balance: 1.5 ether", Balance{Ether: "1.5"}.Notice())
}
