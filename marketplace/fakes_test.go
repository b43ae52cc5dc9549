package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"estateagency/ledger"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type transactCall struct {
	from   common.Address
	value  *big.Int
	method string
	args   []interface{}
}

// simulatedContract is an in-memory stand-in for the estate agency contract.
type simulatedContract struct {
	mu        sync.Mutex
	now       time.Time
	estates   []ledger.Estate
	ads       []ledger.Ad
	balances  map[common.Address]*big.Int
	transacts []transactCall
	transfers []transactCall
	reads     int

	readErr     error
	transactErr error
}

func newSimulatedContract() *simulatedContract {
	return &simulatedContract{
		now:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		balances: map[common.Address]*big.Int{},
	}
}

func revert(method, reason string) error {
	return &ledger.RPCError{Method: method, Reason: reason, Cause: errors.New("execution reverted")}
}

func (c *simulatedContract) Estates(ctx context.Context, caller common.Address) ([]ledger.Estate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.readErr != nil {
		return nil, c.readErr
	}
	return append([]ledger.Estate(nil), c.estates...), nil
}

func (c *simulatedContract) Ads(ctx context.Context, caller common.Address) ([]ledger.Ad, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.readErr != nil {
		return nil, c.readErr
	}
	return append([]ledger.Ad(nil), c.ads...), nil
}

func (c *simulatedContract) Balance(ctx context.Context, caller common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.readErr != nil {
		return nil, c.readErr
	}
	return new(big.Int).Set(c.balanceOf(caller)), nil
}

func (c *simulatedContract) balanceOf(account common.Address) *big.Int {
	b, ok := c.balances[account]
	if !ok {
		b = new(big.Int)
		c.balances[account] = b
	}
	return b
}

func (c *simulatedContract) Transact(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == nil {
		value = new(big.Int)
	}
	c.transacts = append(c.transacts, transactCall{from: from, value: value, method: method, args: args})
	if c.transactErr != nil {
		return common.Hash{}, c.transactErr
	}
	if err := c.apply(from, value, method, args); err != nil {
		return common.Hash{}, err
	}
	return common.BigToHash(big.NewInt(int64(len(c.transacts)))), nil
}

func (c *simulatedContract) apply(from common.Address, value *big.Int, method string, args []interface{}) error {
	switch method {
	case ledger.MethodCreateEstate:
		c.estates = append(c.estates, ledger.Estate{
			ID:       uint64(len(c.estates)),
			Size:     args[0].(*big.Int),
			PhotoURL: args[1].(string),
			Rooms:    args[2].(*big.Int),
			Type:     ledger.EstateType(args[3].(uint8)),
			Active:   true,
			Owner:    from,
		})
	case ledger.MethodCreateAd:
		estateID := args[0].(*big.Int)
		if !estateID.IsUint64() || estateID.Uint64() >= uint64(len(c.estates)) {
			return revert(method, "estate does not exist")
		}
		if c.estates[estateID.Uint64()].Owner != from {
			return revert(method, "not the estate owner")
		}
		c.ads = append(c.ads, ledger.Ad{
			ID:        uint64(len(c.ads)),
			Owner:     from,
			Price:     args[1].(*big.Int),
			EstateID:  estateID,
			CreatedAt: c.now,
			Status:    ledger.AdOpen,
		})
	case ledger.MethodBuyEstate:
		id := args[0].(*big.Int).Uint64()
		if id >= uint64(len(c.ads)) {
			return revert(method, "ad does not exist")
		}
		ad := &c.ads[id]
		switch {
		case ad.Status != ledger.AdOpen:
			return revert(method, "ad is closed")
		case value.Cmp(ad.Price) != 0:
			return revert(method, "value must equal price")
		case c.balanceOf(from).Cmp(value) < 0:
			return revert(method, "insufficient balance")
		}
		c.balanceOf(from).Sub(c.balanceOf(from), value)
		c.balanceOf(ad.Owner).Add(c.balanceOf(ad.Owner), value)
		ad.Buyer = from
		ad.Status = ledger.AdClosed
		c.estates[ad.EstateID.Uint64()].Owner = from
	case ledger.MethodAddFunds:
		c.balanceOf(from).Add(c.balanceOf(from), value)
	case ledger.MethodWithdraw:
		if c.balanceOf(from).Cmp(value) < 0 {
			return revert(method, "insufficient balance")
		}
		c.balanceOf(from).Sub(c.balanceOf(from), value)
	case ledger.MethodUpdateEstateStatus:
		c.estates[args[0].(*big.Int).Uint64()].Active = args[1].(bool)
	case ledger.MethodUpdateAdStatus:
		c.ads[args[0].(*big.Int).Uint64()].Status = ledger.AdStatus(args[1].(uint8))
	default:
		return fmt.Errorf("unknown method %s", method)
	}
	return nil
}

func (c *simulatedContract) Transfer(ctx context.Context, from, to common.Address, value *big.Int) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers = append(c.transfers, transactCall{from: from, value: value, args: []interface{}{to}})
	if c.transactErr != nil {
		return common.Hash{}, c.transactErr
	}
	return common.BigToHash(big.NewInt(int64(1000 + len(c.transfers)))), nil
}

func (c *simulatedContract) transactCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transacts)
}

func (c *simulatedContract) lastTransact() transactCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transacts[len(c.transacts)-1]
}

// fakeNode accepts one secret per account and reports repeat unlocks the way
// geth-derived nodes do.
type fakeNode struct {
	mu       sync.Mutex
	secrets  map[common.Address]string
	unlocked map[common.Address]bool
	unlocks  int
	locks    int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		secrets:  map[common.Address]string{alice: "alice-secret", bob: "bob-secret"},
		unlocked: map[common.Address]bool{},
	}
}

func (n *fakeNode) UnlockAccount(ctx context.Context, account common.Address, secret string, duration time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unlocks++
	if n.secrets[account] != secret {
		return false, errors.New("could not decrypt key with given password")
	}
	if n.unlocked[account] {
		return false, errors.New("Account already unlocked")
	}
	n.unlocked[account] = true
	return true, nil
}

func (n *fakeNode) LockAccount(ctx context.Context, account common.Address) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locks++
	if _, ok := n.secrets[account]; !ok {
		return false, nil
	}
	n.unlocked[account] = false
	return true, nil
}

func (n *fakeNode) unlockCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unlocks
}
