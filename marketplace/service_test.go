package marketplace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"estateagency/journal"
	"estateagency/ledger"
	"estateagency/observability"
	"estateagency/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, contract *simulatedContract, node *fakeNode, opts ...Option) *Service {
	t.Helper()
	sessions := session.NewManager(node, session.WithLogger(quietLogger()))
	base := []Option{
		WithLogger(quietLogger()),
		WithMetrics(observability.NewMarketplaceMetrics(nil)),
	}
	return NewService(contract, sessions, append(base, opts...)...)
}

func newTestJournal(t *testing.T) *journal.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := journal.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateEstateSendsZeroBasedType(t *testing.T) {
	contract := newSimulatedContract()
	svc := newTestService(t, contract, newFakeNode())
	ctx := context.Background()

	for userType := 1; userType <= ledger.EstateTypeCount; userType++ {
		_, err := svc.CreateEstate(ctx, alice.Hex(), "alice-secret", EstateDraft{Size: 40, PhotoURL: "x.jpg", Rooms: 2, Type: userType})
		require.NoError(t, err)

		call := contract.lastTransact()
		require.Equal(t, ledger.MethodCreateEstate, call.method)
		require.Equal(t, uint8(userType-1), call.args[3])
		require.Equal(t, 0, call.value.Sign())
	}
}

func TestCreateEstateRejectsInvalidDraft(t *testing.T) {
	cases := map[string]EstateDraft{
		"zero size":     {Size: 0, Rooms: 1, Type: 1},
		"negative room": {Size: 10, Rooms: -1, Type: 1},
		"type zero":     {Size: 10, Rooms: 1, Type: 0},
		"type too high": {Size: 10, Rooms: 1, Type: ledger.EstateTypeCount + 1},
	}
	for name, draft := range cases {
		t.Run(name, func(t *testing.T) {
			contract := newSimulatedContract()
			node := newFakeNode()
			svc := newTestService(t, contract, node)

			_, err := svc.CreateEstate(context.Background(), alice.Hex(), "alice-secret", draft)
			require.ErrorIs(t, err, ErrInvalidInput)
			require.Equal(t, 0, node.unlockCount())
			require.Equal(t, 0, contract.transactCount())
		})
	}
}

func TestCreateEstateUnlockFailure(t *testing.T) {
	contract := newSimulatedContract()
	svc := newTestService(t, contract, newFakeNode())

	_, err := svc.CreateEstate(context.Background(), alice.Hex(), "wrong", EstateDraft{Size: 1, Rooms: 1, Type: 1})
	require.ErrorIs(t, err, session.ErrUnlockFailed)
	require.Equal(t, KindUnlockFailed, KindOf(err))
	require.Equal(t, 0, contract.transactCount())
}

func TestCreateEstateTwiceToleratesRepeatUnlock(t *testing.T) {
	contract := newSimulatedContract()
	node := newFakeNode()
	svc := newTestService(t, contract, node)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.CreateEstate(ctx, alice.Hex(), "alice-secret", EstateDraft{Size: 1, Rooms: 1, Type: 1})
		require.NoError(t, err)
	}
	require.Equal(t, 2, node.unlockCount())
	require.Equal(t, 2, contract.transactCount())
}

func TestBuyEstateInsufficientBalanceIsNoop(t *testing.T) {
	contract := newSimulatedContract()
	contract.estates = []ledger.Estate{{Owner: alice}}
	contract.ads = []ledger.Ad{{Owner: alice, Price: big.NewInt(1000), EstateID: big.NewInt(0)}}
	contract.balances[bob] = big.NewInt(999)
	svc := newTestService(t, contract, newFakeNode())

	purchase, err := svc.BuyEstate(context.Background(), bob.Hex(), 0)
	require.NoError(t, err)
	require.False(t, purchase.Executed)
	require.Equal(t, "1000", purchase.Price.String())
	require.Equal(t, "999", purchase.Balance.String())
	require.Equal(t, 0, contract.transactCount())
	require.Contains(t, purchase.Notice(), "not submitted")
}

func TestBuyEstateOutOfRange(t *testing.T) {
	contract := newSimulatedContract()
	contract.ads = []ledger.Ad{{Owner: alice, Price: big.NewInt(1), EstateID: big.NewInt(0)}}
	svc := newTestService(t, contract, newFakeNode())

	_, err := svc.BuyEstate(context.Background(), bob.Hex(), 1)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, KindInvalidInput, KindOf(err))
	require.Equal(t, 0, contract.transactCount())
}

func TestBuyEstateLeavesAdStatusToLedger(t *testing.T) {
	contract := newSimulatedContract()
	contract.estates = []ledger.Estate{{Owner: alice}}
	contract.ads = []ledger.Ad{{Owner: alice, Price: big.NewInt(5), EstateID: big.NewInt(0), Status: ledger.AdClosed}}
	contract.balances[bob] = big.NewInt(5)
	svc := newTestService(t, contract, newFakeNode())

	_, err := svc.BuyEstate(context.Background(), bob.Hex(), 0)
	require.ErrorIs(t, err, ledger.ErrRPCFailure)
	require.Equal(t, 1, contract.transactCount())
	require.Contains(t, Notice(err), "ad is closed")
}

func TestMarketplaceEndToEndPurchase(t *testing.T) {
	contract := newSimulatedContract()
	store := newTestJournal(t)
	svc := newTestService(t, contract, newFakeNode(), WithJournal(store))
	ctx := context.Background()

	_, err := svc.CreateEstate(ctx, alice.Hex(), "alice-secret", EstateDraft{Size: 50, PhotoURL: " p.jpg ", Rooms: 3, Type: 2})
	require.NoError(t, err)

	estates, err := svc.ListEstates(ctx, alice.Hex())
	require.NoError(t, err)
	require.Len(t, estates, 1)
	require.Equal(t, ledger.EstateApartment, estates[0].Type)
	require.Equal(t, "50", estates[0].Size.String())
	require.Equal(t, "p.jpg", estates[0].PhotoURL)
	require.Equal(t, "3", estates[0].Rooms.String())
	require.Equal(t, alice, estates[0].Owner)

	_, err = svc.CreateAd(ctx, alice.Hex(), 0, "1.5")
	require.NoError(t, err)

	ads, err := svc.ListAds(ctx, bob.Hex())
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, "1500000000000000000", ads[0].Price.String())
	require.Equal(t, ledger.AdOpen, ads[0].Status)

	_, err = svc.Deposit(ctx, bob.Hex(), "2")
	require.NoError(t, err)

	purchase, err := svc.BuyEstate(ctx, bob.Hex(), 0)
	require.NoError(t, err)
	require.True(t, purchase.Executed)

	buy := contract.lastTransact()
	require.Equal(t, ledger.MethodBuyEstate, buy.method)
	require.Equal(t, bob, buy.from)
	require.Equal(t, 0, buy.value.Cmp(ads[0].Price))

	ads, err = svc.ListAds(ctx, bob.Hex())
	require.NoError(t, err)
	require.Equal(t, ledger.AdClosed, ads[0].Status)
	require.Equal(t, bob, ads[0].Buyer)

	balance, err := svc.Balance(ctx, bob.Hex())
	require.NoError(t, err)
	require.Equal(t, "0.5", balance.Ether)

	activity, err := svc.Activity(ctx, bob.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	ops := []string{activity[0].Operation, activity[1].Operation}
	require.ElementsMatch(t, []string{string(OpDeposit), string(OpBuyEstate)}, ops)
}

func TestAmountValidation(t *testing.T) {
	contract := newSimulatedContract()
	svc := newTestService(t, contract, newFakeNode())
	ctx := context.Background()

	_, err := svc.Deposit(ctx, alice.Hex(), "-1")
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Contains(t, Notice(err), "must not be negative")

	_, err = svc.Withdraw(ctx, alice.Hex(), "1e18")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateAd(ctx, alice.Hex(), 0, "abc")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Transfer(ctx, alice.Hex(), "not-an-address", "1")
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Contains(t, Notice(err), "receiver")

	_, err = svc.Deposit(ctx, "nobody", "1")
	require.ErrorIs(t, err, ErrInvalidInput)

	require.Equal(t, 0, contract.transactCount())
}

func TestWithdrawSendsAmountAsValue(t *testing.T) {
	contract := newSimulatedContract()
	contract.balances[alice] = big.NewInt(2_000_000_000_000_000_000)
	svc := newTestService(t, contract, newFakeNode())

	_, err := svc.Withdraw(context.Background(), alice.Hex(), "0.25")
	require.NoError(t, err)
	call := contract.lastTransact()
	require.Equal(t, ledger.MethodWithdraw, call.method)
	require.Empty(t, call.args)
	require.Equal(t, "250000000000000000", call.value.String())
}

func TestTransferMovesNativeCurrency(t *testing.T) {
	contract := newSimulatedContract()
	svc := newTestService(t, contract, newFakeNode())

	receipt, err := svc.Transfer(context.Background(), alice.Hex(), strings.ToLower(bob.Hex()), "3")
	require.NoError(t, err)
	require.NotEqual(t, "", receipt.Hex())
	require.Len(t, contract.transfers, 1)
	require.Equal(t, bob, contract.transfers[0].args[0])
	require.Equal(t, "3000000000000000000", contract.transfers[0].value.String())
	require.Equal(t, 0, contract.transactCount())
}

func TestUpdateStatusesPassThrough(t *testing.T) {
	contract := newSimulatedContract()
	contract.estates = []ledger.Estate{{Owner: alice, Active: true}}
	contract.ads = []ledger.Ad{{Owner: alice, Price: big.NewInt(1), EstateID: big.NewInt(0)}}
	svc := newTestService(t, contract, newFakeNode())
	ctx := context.Background()

	_, err := svc.UpdateEstateStatus(ctx, alice.Hex(), 0, false)
	require.NoError(t, err)
	require.False(t, contract.estates[0].Active)

	_, err = svc.UpdateAdStatus(ctx, alice.Hex(), 0, ledger.AdStatus(7))
	require.NoError(t, err)
	call := contract.lastTransact()
	require.Equal(t, uint8(7), call.args[1])
	require.Equal(t, ledger.AdStatus(7), contract.ads[0].Status)
}

func TestLedgerFailuresAreClassified(t *testing.T) {
	contract := newSimulatedContract()
	contract.readErr = &ledger.RPCError{Method: ledger.MethodGetAds, Cause: errors.New("connection refused")}
	svc := newTestService(t, contract, newFakeNode())

	_, err := svc.ListAds(context.Background(), alice.Hex())
	require.ErrorIs(t, err, ledger.ErrRPCFailure)
	require.Equal(t, KindRPCFailure, KindOf(err))
	require.Equal(t, "Ledger request failed: getAds: connection refused", Notice(err))

	_, err = svc.BuyEstate(context.Background(), alice.Hex(), 0)
	require.Equal(t, KindRPCFailure, KindOf(err))
	require.Equal(t, 0, contract.transactCount())
}

type failingJournal struct{}

func (failingJournal) Record(context.Context, journal.Entry) error {
	return errors.New("disk full")
}

func (failingJournal) List(context.Context, string, int) ([]journal.Entry, error) {
	return nil, errors.New("disk full")
}

func TestJournalFailureIsNotSurfaced(t *testing.T) {
	contract := newSimulatedContract()
	svc := newTestService(t, contract, newFakeNode(), WithJournal(failingJournal{}))

	_, err := svc.Deposit(context.Background(), alice.Hex(), "1")
	require.NoError(t, err)
}

func TestActivityWithoutJournal(t *testing.T) {
	svc := newTestService(t, newSimulatedContract(), newFakeNode())
	entries, err := svc.Activity(context.Background(), alice.Hex(), 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLoginUnlockLogout(t *testing.T) {
	node := newFakeNode()
	svc := newTestService(t, newSimulatedContract(), node)
	ctx := context.Background()

	capability, err := svc.Login(ctx, alice.Hex(), "alice-secret")
	require.NoError(t, err)
	require.False(t, capability.Renewed)

	capability, err = svc.Unlock(ctx, alice.Hex(), "alice-secret")
	require.NoError(t, err)
	require.True(t, capability.Renewed)

	require.NoError(t, svc.Logout(ctx, alice.Hex()))
	require.Equal(t, 1, node.locks)

	_, err = svc.Login(ctx, "0x12", "x")
	require.Equal(t, KindInvalidInput, KindOf(err))
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	require.Panics(t, func() { NewService(nil, session.NewManager(newFakeNode())) })
	require.Panics(t, func() { NewService(newSimulatedContract(), nil) })
}
