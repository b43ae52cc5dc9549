package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

type rpcCall struct {
	method string
	args   []interface{}
}

type fakeBackend struct {
	mu        sync.Mutex
	outputs   map[string][]byte
	callErr   error
	callMsgs  []ethereum.CallMsg
	rpcCalls  []rpcCall
	rpcResult interface{}
	rpcErr    error
	closed    bool
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callMsgs = append(f.callMsgs, msg)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.outputs[string(msg.Data[:4])], nil
}

func (f *fakeBackend) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcCalls = append(f.rpcCalls, rpcCall{method: method, args: args})
	if f.rpcErr != nil {
		return f.rpcErr
	}
	raw, err := json.Marshal(f.rpcResult)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (f *fakeBackend) Close() { f.closed = true }

type revertError struct {
	data string
}

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorCode() int         { return 3 }
func (e revertError) ErrorData() interface{} { return e.data }

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob          = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestClient(t *testing.T) (*Client, *fakeBackend, abi.ABI) {
	t.Helper()
	parsed, err := LoadABI("")
	require.NoError(t, err)
	backend := &fakeBackend{outputs: map[string][]byte{}}
	return NewClient(backend, contractAddr, parsed), backend, parsed
}

func stubOutput(t *testing.T, backend *fakeBackend, parsed abi.ABI, method string, values ...interface{}) {
	t.Helper()
	m := parsed.Methods[method]
	packed, err := m.Outputs.Pack(values...)
	require.NoError(t, err)
	backend.outputs[string(m.ID)] = packed
}

func TestEstatesDecodesTuples(t *testing.T) {
	client, backend, parsed := newTestClient(t)
	stubOutput(t, backend, parsed, MethodGetEstates, []estateTuple{
		{Size: big.NewInt(50), PhotoUrl: "p.jpg", Rooms: big.NewInt(3), EsType: 1, IsActive: true, Owner: alice},
		{Size: big.NewInt(120), PhotoUrl: "loft.png", Rooms: big.NewInt(5), EsType: 2, IsActive: false, Owner: bob},
	})

	estates, err := client.Estates(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, estates, 2)
	require.Equal(t, uint64(0), estates[0].ID)
	require.Equal(t, int64(50), estates[0].Size.Int64())
	require.Equal(t, "p.jpg", estates[0].PhotoURL)
	require.Equal(t, int64(3), estates[0].Rooms.Int64())
	require.Equal(t, EstateApartment, estates[0].Type)
	require.True(t, estates[0].Active)
	require.Equal(t, alice, estates[0].Owner)
	require.Equal(t, uint64(1), estates[1].ID)
	require.Equal(t, EstateLoft, estates[1].Type)
	require.False(t, estates[1].Active)

	require.Len(t, backend.callMsgs, 1)
	require.Equal(t, alice, backend.callMsgs[0].From)
	require.Equal(t, contractAddr, *backend.callMsgs[0].To)
}

func TestAdsDecodesTuples(t *testing.T) {
	client, backend, parsed := newTestClient(t)
	price, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)
	stubOutput(t, backend, parsed, MethodGetAds, []adTuple{
		{Owner: alice, Price: price, EstateId: big.NewInt(0), DateTime: big.NewInt(1700000000), AdStatus: 0},
		{Owner: alice, Buyer: bob, Price: big.NewInt(1), EstateId: big.NewInt(4), DateTime: big.NewInt(0), AdStatus: 1},
	})

	ads, err := client.Ads(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, ads, 2)
	require.Equal(t, 0, ads[0].Price.Cmp(price))
	require.Equal(t, AdOpen, ads[0].Status)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), ads[0].CreatedAt)
	require.Equal(t, AdClosed, ads[1].Status)
	require.Equal(t, bob, ads[1].Buyer)
	require.Equal(t, int64(4), ads[1].EstateID.Int64())
	require.True(t, ads[1].CreatedAt.IsZero())
}

func TestBalanceUsesCallerAsSender(t *testing.T) {
	client, backend, parsed := newTestClient(t)
	stubOutput(t, backend, parsed, MethodGetBalance, big.NewInt(777))

	balance, err := client.Balance(context.Background(), bob)
	require.NoError(t, err)
	require.Equal(t, int64(777), balance.Int64())
	require.Equal(t, bob, backend.callMsgs[0].From)
}

func TestReadSurfacesRevertReason(t *testing.T) {
	client, backend, _ := newTestClient(t)
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	payload, err := abi.Arguments{{Type: stringType}}.Pack("caller has no balance")
	require.NoError(t, err)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	backend.callErr = revertError{data: hexutil.Encode(append(selector, payload...))}

	_, err = client.Balance(context.Background(), alice)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRPCFailure))
	require.Contains(t, err.Error(), "execution reverted: caller has no balance")
}

func TestReadWrapsNodeErrors(t *testing.T) {
	client, backend, _ := newTestClient(t)
	backend.callErr = errors.New("connection refused")

	_, err := client.Estates(context.Background(), alice)
	require.ErrorIs(t, err, ErrRPCFailure)
	require.Contains(t, err.Error(), "connection refused")
}

func TestReadRejectsEmptyResult(t *testing.T) {
	client, _, _ := newTestClient(t)

	_, err := client.Ads(context.Background(), alice)
	require.ErrorIs(t, err, ErrRPCFailure)
}

func TestTransactEncodesContractCall(t *testing.T) {
	client, backend, parsed := newTestClient(t)
	want := common.HexToHash("0xabc1")
	backend.rpcResult = want

	hash, err := client.Transact(context.Background(), alice, nil, MethodCreateEstate,
		big.NewInt(50), "p.jpg", big.NewInt(3), uint8(1))
	require.NoError(t, err)
	require.Equal(t, want, hash)

	require.Len(t, backend.rpcCalls, 1)
	call := backend.rpcCalls[0]
	require.Equal(t, "eth_sendTransaction", call.method)
	args, ok := call.args[0].(sendArgs)
	require.True(t, ok)
	require.Equal(t, alice, args.From)
	require.Equal(t, contractAddr, *args.To)
	require.Nil(t, args.Value)
	expected, err := parsed.Pack(MethodCreateEstate, big.NewInt(50), "p.jpg", big.NewInt(3), uint8(1))
	require.NoError(t, err)
	require.True(t, bytes.Equal(expected, args.Data))
}

func TestTransactCarriesValue(t *testing.T) {
	client, backend, _ := newTestClient(t)
	backend.rpcResult = common.HexToHash("0x01")
	value := big.NewInt(42)

	_, err := client.Transact(context.Background(), bob, value, MethodBuyEstate, big.NewInt(0))
	require.NoError(t, err)
	args := backend.rpcCalls[0].args[0].(sendArgs)
	require.Equal(t, int64(42), args.Value.ToInt().Int64())

	value.SetInt64(1)
	require.Equal(t, int64(42), args.Value.ToInt().Int64(), "value must be copied")
}

func TestTransactRejectsUnpackableArguments(t *testing.T) {
	client, backend, _ := newTestClient(t)

	_, err := client.Transact(context.Background(), bob, nil, MethodBuyEstate, "not-a-number")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRPCFailure))
	require.Empty(t, backend.rpcCalls)
}

func TestTransferSkipsContract(t *testing.T) {
	client, backend, _ := newTestClient(t)
	backend.rpcResult = common.HexToHash("0x02")

	_, err := client.Transfer(context.Background(), alice, bob, big.NewInt(5))
	require.NoError(t, err)
	args := backend.rpcCalls[0].args[0].(sendArgs)
	require.Equal(t, bob, *args.To)
	require.Empty(t, args.Data)
}

func TestUnlockAccountPassesDuration(t *testing.T) {
	client, backend, _ := newTestClient(t)
	backend.rpcResult = true

	ok, err := client.UnlockAccount(context.Background(), alice, "hunter2", 90*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	call := backend.rpcCalls[0]
	require.Equal(t, "personal_unlockAccount", call.method)
	require.Equal(t, alice, call.args[0])
	require.Equal(t, "hunter2", call.args[1])
	seconds, isPtr := call.args[2].(*uint64)
	require.True(t, isPtr)
	require.Equal(t, uint64(90), *seconds)

	_, err = client.UnlockAccount(context.Background(), alice, "hunter2", 0)
	require.NoError(t, err)
	require.Nil(t, backend.rpcCalls[1].args[2].(*uint64))

	_, err = client.UnlockAccount(context.Background(), alice, "hunter2", 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, uint64(1), *backend.rpcCalls[2].args[2].(*uint64))
}

func TestLockAccount(t *testing.T) {
	client, backend, _ := newTestClient(t)
	backend.rpcResult = true

	locked, err := client.LockAccount(context.Background(), alice)
	require.NoError(t, err)
	require.True(t, locked)
	require.Equal(t, "personal_lockAccount", backend.rpcCalls[0].method)

	backend.rpcErr = errors.New("unknown account")
	_, err = client.LockAccount(context.Background(), alice)
	require.ErrorIs(t, err, ErrRPCFailure)
}

func TestLoadABIRequiresMarketplaceMethods(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.json")
	partial := `[{"type":"function","name":"getBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`
	require.NoError(t, os.WriteFile(path, []byte(partial), 0o600))

	_, err := LoadABI(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing method")

	_, err = LoadABI(filepath.Join(dir, "absent.json"))
	require.Error(t, err)
}

func TestDialValidatesConfig(t *testing.T) {
	_, err := Dial(context.Background(), Config{ContractAddress: contractAddr.Hex()})
	require.Error(t, err)

	_, err = Dial(context.Background(), Config{Endpoint: "http://127.0.0.1:8545", ContractAddress: "nope"})
	require.Error(t, err)
}

func TestCloseReleasesBackend(t *testing.T) {
	client, backend, _ := newTestClient(t)
	client.Close()
	require.True(t, backend.closed)
}
