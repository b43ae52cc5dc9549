// Package marketplace sequences user intents into guarded calls against the
// estate ledger contract and classifies their outcomes.
package marketplace

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"estateagency/journal"
	"estateagency/ledger"
	"estateagency/observability"
	"estateagency/session"
)

// Operation names one orchestrated user intent. The value doubles as the
// metrics and journal label.
type Operation string

const (
	OpListEstates        Operation = "list_estates"
	OpCreateEstate       Operation = "create_estate"
	OpListAds            Operation = "list_ads"
	OpCreateAd           Operation = "create_ad"
	OpBuyEstate          Operation = "buy_estate"
	OpDeposit            Operation = "deposit"
	OpWithdraw           Operation = "withdraw"
	OpTransfer           Operation = "transfer"
	OpUpdateEstateStatus Operation = "update_estate_status"
	OpUpdateAdStatus     Operation = "update_ad_status"
	OpBalance            Operation = "balance"
	OpLogin              Operation = "login"
	OpUnlock             Operation = "unlock"
	OpLogout             Operation = "logout"
	OpActivity           Operation = "activity"
)

// Ledger is the subset of the ledger client the orchestrator drives.
type Ledger interface {
	Estates(ctx context.Context, caller common.Address) ([]ledger.Estate, error)
	Ads(ctx context.Context, caller common.Address) ([]ledger.Ad, error)
	Balance(ctx context.Context, caller common.Address) (*big.Int, error)
	Transact(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) (common.Hash, error)
	Transfer(ctx context.Context, from, to common.Address, value *big.Int) (common.Hash, error)
}

// Sessions grants and revokes signing capabilities.
type Sessions interface {
	Unlock(ctx context.Context, account common.Address, secret string) (session.Capability, error)
	Revoke(ctx context.Context, account common.Address) error
}

// Journal stores receipts of submitted transactions.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
	List(ctx context.Context, account string, limit int) ([]journal.Entry, error)
}

// Purchase reports the outcome of BuyEstate. Executed is false when the
// buyer balance was below the price and no transaction was submitted.
type Purchase struct {
	Receipt  common.Hash `json:"receipt"`
	Executed bool        `json:"executed"`
	Price    *big.Int    `json:"price"`
	Balance  *big.Int    `json:"balance"`
}

// Notice renders the user-visible outcome of the purchase.
func (p Purchase) Notice() string {
	if !p.Executed {
		return "Balance is below the advertised price; the purchase was not submitted."
	}
	return Confirmation(OpBuyEstate, p.Receipt)
}

// Balance is an account balance held by the contract.
type Balance struct {
	Wei   *big.Int `json:"wei"`
	Ether string   `json:"ether"`
}

// Notice renders the balance for display.
func (b Balance) Notice() string {
	return "Current balance: " + b.Ether + " ether"
}

// Option customises a Service.
type Option func(*Service)

// WithJournal records receipts of successful transactions.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// WithMetrics overrides the metrics registry.
func WithMetrics(m *observability.MarketplaceMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service orchestrates marketplace operations. It holds only immutable
// collaborators and is safe for concurrent use.
type Service struct {
	ledger   Ledger
	sessions Sessions
	journal  Journal
	metrics  *observability.MarketplaceMetrics
	logger   *slog.Logger
}

// NewService wires the orchestrator. The ledger client and session manager
// are required.
func NewService(l Ledger, sessions Sessions, opts ...Option) *Service {
	if l == nil {
		panic("marketplace: ledger required")
	}
	if sessions == nil {
		panic("marketplace: sessions required")
	}
	s := &Service{
		ledger:   l,
		sessions: sessions,
		metrics:  observability.Marketplace(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ListEstates returns every estate known to the ledger.
func (s *Service) ListEstates(ctx context.Context, account string) (estates []ledger.Estate, err error) {
	defer s.observe(OpListEstates, account, time.Now(), &err)
	caller, err := ParseAccount("account", account)
	if err != nil {
		return nil, err
	}
	return s.ledger.Estates(ctx, caller)
}

// CreateEstate unlocks account and registers a new estate. The one-based
// draft type is stored zero-based.
func (s *Service) CreateEstate(ctx context.Context, account, secret string, draft EstateDraft) (receipt common.Hash, err error) {
	defer s.observe(OpCreateEstate, account, time.Now(), &err)
	from, err := ParseAccount("account", account)
	if err != nil {
		return common.Hash{}, err
	}
	estateType, err := draft.Validate()
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := s.sessions.Unlock(ctx, from, secret); err != nil {
		return common.Hash{}, err
	}
	receipt, err = s.ledger.Transact(ctx, from, nil, ledger.MethodCreateEstate,
		big.NewInt(draft.Size), draft.Photo(), big.NewInt(draft.Rooms), uint8(estateType))
	if err != nil {
		return common.Hash{}, err
	}
	s.record(ctx, OpCreateEstate, from, receipt, nil, estateType.String())
	return receipt, nil
}

// ListAds returns every advertisement known to the ledger.
func (s *Service) ListAds(ctx context.Context, account string) (ads []ledger.Ad, err error) {
	defer s.observe(OpListAds, account, time.Now(), &err)
	caller, err := ParseAccount("account", account)
	if err != nil {
		return nil, err
	}
	return s.ledger.Ads(ctx, caller)
}

// CreateAd offers estateID for sale at priceEther. Estate existence and
// ownership are enforced by the ledger.
func (s *Service) CreateAd(ctx context.Context, account string, estateID uint64, priceEther string) (receipt common.Hash, err error) {
	defer s.observe(OpCreateAd, account, time.Now(), &err)
	from, err := ParseAccount("account", account)
	if err != nil {
		return common.Hash{}, err
	}
	price, err := parseAmount("price", priceEther)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err = s.ledger.Transact(ctx, from, nil, ledger.MethodCreateAd, new(big.Int).SetUint64(estateID), price)
	if err != nil {
		return common.Hash{}, err
	}
	s.record(ctx, OpCreateAd, from, receipt, nil, "price "+price.String())
	return receipt, nil
}

// BuyEstate purchases the estate behind adID, attaching the ad price as
// value. When the buyer balance is below the price nothing is submitted and
// the returned Purchase has Executed false. The balance check and the
// purchase are separate round-trips; the ledger re-validates at transact
// time. Ad status is left to the ledger.
func (s *Service) BuyEstate(ctx context.Context, account string, adID uint64) (purchase Purchase, err error) {
	defer s.observe(OpBuyEstate, account, time.Now(), &err)
	buyer, err := ParseAccount("account", account)
	if err != nil {
		return Purchase{}, err
	}
	ads, err := s.ledger.Ads(ctx, buyer)
	if err != nil {
		return Purchase{}, err
	}
	if adID >= uint64(len(ads)) {
		return Purchase{}, invalid("ad id", "advertisement %d does not exist", adID)
	}
	price := ads[adID].Price
	if price == nil {
		price = new(big.Int)
	}
	balance, err := s.ledger.Balance(ctx, buyer)
	if err != nil {
		return Purchase{}, err
	}
	purchase = Purchase{Price: price, Balance: balance}
	if balance.Cmp(price) < 0 {
		s.metrics.RecordSkippedPurchase()
		s.logger.Info("purchase skipped",
			slog.String("account", buyer.Hex()),
			slog.Uint64("ad", adID),
			slog.String("reason", "insufficient balance"))
		return purchase, nil
	}
	purchase.Receipt, err = s.ledger.Transact(ctx, buyer, price, ledger.MethodBuyEstate, new(big.Int).SetUint64(adID))
	if err != nil {
		return Purchase{}, err
	}
	purchase.Executed = true
	s.record(ctx, OpBuyEstate, buyer, purchase.Receipt, price, "")
	return purchase, nil
}

// Deposit funds the account's contract balance.
func (s *Service) Deposit(ctx context.Context, account, amountEther string) (receipt common.Hash, err error) {
	defer s.observe(OpDeposit, account, time.Now(), &err)
	return s.payContract(ctx, OpDeposit, account, amountEther, ledger.MethodAddFunds)
}

// Withdraw calls the contract withdraw entry point with the amount attached
// as transaction value.
// TODO: confirm against the contract source whether withdraw should take the
// amount as an argument instead of as value.
func (s *Service) Withdraw(ctx context.Context, account, amountEther string) (receipt common.Hash, err error) {
	defer s.observe(OpWithdraw, account, time.Now(), &err)
	return s.payContract(ctx, OpWithdraw, account, amountEther, ledger.MethodWithdraw)
}

func (s *Service) payContract(ctx context.Context, op Operation, account, amountEther, method string) (common.Hash, error) {
	from, err := ParseAccount("account", account)
	if err != nil {
		return common.Hash{}, err
	}
	amount, err := parseAmount("amount", amountEther)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := s.ledger.Transact(ctx, from, amount, method)
	if err != nil {
		return common.Hash{}, err
	}
	s.record(ctx, op, from, receipt, amount, "")
	return receipt, nil
}

// Transfer moves native currency from account to receiver outside the
// contract.
func (s *Service) Transfer(ctx context.Context, account, receiver, amountEther string) (receipt common.Hash, err error) {
	defer s.observe(OpTransfer, account, time.Now(), &err)
	from, err := ParseAccount("account", account)
	if err != nil {
		return common.Hash{}, err
	}
	to, err := ParseAccount("receiver", receiver)
	if err != nil {
		return common.Hash{}, err
	}
	amount, err := parseAmount("amount", amountEther)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err = s.ledger.Transfer(ctx, from, to, amount)
	if err != nil {
		return common.Hash{}, err
	}
	s.record(ctx, OpTransfer, from, receipt, amount, "to "+to.Hex())
	return receipt, nil
}

// UpdateEstateStatus toggles whether an estate is active.
func (s *Service) UpdateEstateStatus(ctx context.Context, account string, estateID uint64, active bool) (receipt common.Hash, err error) {
	defer s.observe(OpUpdateEstateStatus, account, time.Now(), &err)
	from, err := ParseAccount("account", account)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err = s.ledger.Transact(ctx, from, nil, ledger.MethodUpdateEstateStatus, new(big.Int).SetUint64(estateID), active)
	if err != nil {
		return common.Hash{}, err
	}
	detail := "inactive"
	if active {
		detail = "active"
	}
	s.record(ctx, OpUpdateEstateStatus, from, receipt, nil, detail)
	return receipt, nil
}

// UpdateAdStatus sets an advertisement status. Transitions are defined by
// the ledger.
func (s *Service) UpdateAdStatus(ctx context.Context, account string, adID uint64, status ledger.AdStatus) (receipt common.Hash, err error) {
	defer s.observe(OpUpdateAdStatus, account, time.Now(), &err)
	from, err := ParseAccount("account", account)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err = s.ledger.Transact(ctx, from, nil, ledger.MethodUpdateAdStatus, new(big.Int).SetUint64(adID), uint8(status))
	if err != nil {
		return common.Hash{}, err
	}
	s.record(ctx, OpUpdateAdStatus, from, receipt, nil, status.String())
	return receipt, nil
}

// Balance returns the contract balance of account.
func (s *Service) Balance(ctx context.Context, account string) (balance Balance, err error) {
	defer s.observe(OpBalance, account, time.Now(), &err)
	caller, err := ParseAccount("account", account)
	if err != nil {
		return Balance{}, err
	}
	wei, err := s.ledger.Balance(ctx, caller)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Wei: wei, Ether: ledger.WeiToEther(wei)}, nil
}

// Login verifies the account secret by unlocking the account.
func (s *Service) Login(ctx context.Context, account, secret string) (capability session.Capability, err error) {
	defer s.observe(OpLogin, account, time.Now(), &err)
	return s.unlock(ctx, account, secret)
}

// Unlock refreshes the signing capability of account.
func (s *Service) Unlock(ctx context.Context, account, secret string) (capability session.Capability, err error) {
	defer s.observe(OpUnlock, account, time.Now(), &err)
	return s.unlock(ctx, account, secret)
}

func (s *Service) unlock(ctx context.Context, account, secret string) (session.Capability, error) {
	addr, err := ParseAccount("account", account)
	if err != nil {
		return session.Capability{}, err
	}
	return s.sessions.Unlock(ctx, addr, secret)
}

// Logout revokes the signing capability of account.
func (s *Service) Logout(ctx context.Context, account string) (err error) {
	defer s.observe(OpLogout, account, time.Now(), &err)
	addr, err := ParseAccount("account", account)
	if err != nil {
		return err
	}
	return s.sessions.Revoke(ctx, addr)
}

// Activity lists journaled transactions of account, newest first. Without a
// journal it returns an empty list.
func (s *Service) Activity(ctx context.Context, account string, limit int) (entries []journal.Entry, err error) {
	defer s.observe(OpActivity, account, time.Now(), &err)
	addr, err := ParseAccount("account", account)
	if err != nil {
		return nil, err
	}
	if s.journal == nil {
		return []journal.Entry{}, nil
	}
	return s.journal.List(ctx, addr.Hex(), limit)
}

func (s *Service) record(ctx context.Context, op Operation, account common.Address, receipt common.Hash, value *big.Int, detail string) {
	s.metrics.RecordValue(string(op), value)
	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		Account:   account.Hex(),
		Operation: string(op),
		TxHash:    receipt.Hex(),
		Detail:    detail,
	}
	if value != nil {
		entry.ValueWei = value.String()
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Warn("journal record failed",
			slog.String("operation", string(op)),
			slog.String("tx", receipt.Hex()),
			slog.Any("error", err))
	}
}

func (s *Service) observe(op Operation, account string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	kind := KindOf(err)
	s.metrics.Observe(string(op), string(kind), time.Since(start))
	if err == nil {
		s.logger.Debug("operation completed",
			slog.String("operation", string(op)),
			slog.String("account", account))
		return
	}
	level := slog.LevelWarn
	if kind == KindInternal {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "operation failed",
		slog.String("operation", string(op)),
		slog.String("account", account),
		slog.String("reason", string(kind)),
		slog.Any("error", err))
}

func parseAmount(field, raw string) (*big.Int, error) {
	wei, err := ledger.EtherToWei(raw)
	switch {
	case errors.Is(err, ledger.ErrNegativeAmount):
		return nil, invalid(field, "must not be negative")
	case err != nil:
		return nil, invalid(field, "%q is not a decimal ether amount", raw)
	}
	return wei, nil
}
