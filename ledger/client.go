package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrRPCFailure classifies every failure reported by the node, including
// contract reverts.
var ErrRPCFailure = errors.New("ledger rpc failure")

// RPCError carries the human readable cause of a failed ledger call.
type RPCError struct {
	Method string
	Reason string
	Cause  error
}

func (e *RPCError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: execution reverted: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Method, e.Cause)
}

func (e *RPCError) Unwrap() []error {
	return []error{ErrRPCFailure, e.Cause}
}

func newRPCError(method string, err error) error {
	return &RPCError{Method: method, Reason: revertReason(err), Cause: err}
}

// revertReason extracts the Error(string) payload from a reverted call when
// the node attaches revert data to the JSON-RPC error.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok || raw == "" {
		return ""
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}

// Backend is the subset of the node RPC surface used by the client.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

type rpcBackend struct {
	eth *ethclient.Client
	raw *rpc.Client
}

func (b *rpcBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return b.eth.CallContract(ctx, msg, blockNumber)
}

func (b *rpcBackend) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return b.raw.CallContext(ctx, result, method, args...)
}

func (b *rpcBackend) Close() {
	b.raw.Close()
}

// Config captures how to reach the node and the marketplace contract.
type Config struct {
	Endpoint        string
	ContractAddress string
	ABIFile         string
	CallTimeout     time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithCallTimeout bounds every individual RPC round-trip. Zero disables the
// bound and lets the caller's context decide.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMeterProvider overrides the provider used for RPC metrics. The global
// provider is used otherwise.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *Client) {
		if provider != nil {
			c.metrics = newRPCMetrics(provider)
		}
	}
}

// Client issues read and transact calls against the marketplace contract
// and exposes the node's account primitives. It performs no business
// validation; callers check arguments before submission.
type Client struct {
	backend  Backend
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration
	tracer   trace.Tracer
	metrics  *rpcMetrics
	logger   *slog.Logger
}

// Dial connects to the node described by cfg.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	contractABI, err := LoadABI(cfg.ABIFile)
	if err != nil {
		return nil, err
	}
	// WithHTTPClient only affects HTTP endpoints; WS and IPC dial as usual.
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	raw, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial ledger %s: %w", endpoint, err)
	}
	backend := &rpcBackend{eth: ethclient.NewClient(raw), raw: raw}
	opts = append([]Option{WithCallTimeout(cfg.CallTimeout)}, opts...)
	return NewClient(backend, common.HexToAddress(cfg.ContractAddress), contractABI, opts...), nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, contract common.Address, contractABI abi.ABI, opts ...Option) *Client {
	c := &Client{
		backend:  backend,
		contract: contract,
		abi:      contractABI,
		tracer:   otel.Tracer("estateagency/ledger"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = newRPCMetrics(otel.GetMeterProvider())
	}
	return c
}

// Contract returns the marketplace contract address.
func (c *Client) Contract() common.Address { return c.contract }

// Close releases the node connection.
func (c *Client) Close() {
	if c == nil || c.backend == nil {
		return
	}
	c.backend.Close()
}

// Read performs a non-mutating contract call with caller as msg.sender.
func (c *Client) Read(ctx context.Context, caller common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ctx, finish := c.begin(ctx, "ledger.read", method)
	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: caller, To: &c.contract, Data: input}, nil)
	if err != nil {
		err = newRPCError(method, err)
		finish(err)
		return nil, err
	}
	values, err := c.abi.Unpack(method, output)
	if err != nil {
		err = newRPCError(method, fmt.Errorf("decode result: %w", err))
		finish(err)
		return nil, err
	}
	finish(nil)
	return values, nil
}

// sendArgs is the eth_sendTransaction payload for node-managed accounts.
type sendArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// Transact submits a mutating contract call signed by the node on behalf of
// from. The account must hold a signing capability on the node.
func (c *Client) Transact(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) (common.Hash, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}
	contract := c.contract
	return c.send(ctx, method, sendArgs{From: from, To: &contract, Value: hexValue(value), Data: input})
}

// Transfer moves native currency between accounts without touching the
// contract.
func (c *Client) Transfer(ctx context.Context, from, to common.Address, value *big.Int) (common.Hash, error) {
	return c.send(ctx, "transfer", sendArgs{From: from, To: &to, Value: hexValue(value)})
}

func (c *Client) send(ctx context.Context, label string, args sendArgs) (common.Hash, error) {
	ctx, finish := c.begin(ctx, "ledger.transact", label)
	var hash common.Hash
	if err := c.backend.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		err = newRPCError(label, err)
		finish(err)
		return common.Hash{}, err
	}
	finish(nil)
	c.logger.Debug("ledger transaction submitted",
		slog.String("method", label),
		slog.String("from", args.From.Hex()),
		slog.String("tx", hash.Hex()))
	return hash, nil
}

// UnlockAccount asks the node to unlock account for duration. A zero
// duration defers to the node's default unlock window.
func (c *Client) UnlockAccount(ctx context.Context, account common.Address, secret string, duration time.Duration) (bool, error) {
	var seconds *uint64
	if duration > 0 {
		s := uint64(duration / time.Second)
		if s == 0 {
			// The node reads zero as "until restart".
			s = 1
		}
		seconds = &s
	}
	ctx, finish := c.begin(ctx, "ledger.account", "personal_unlockAccount")
	var unlocked bool
	if err := c.backend.CallContext(ctx, &unlocked, "personal_unlockAccount", account, secret, seconds); err != nil {
		err = newRPCError("personal_unlockAccount", err)
		finish(err)
		return false, err
	}
	finish(nil)
	return unlocked, nil
}

// LockAccount revokes a previously granted unlock.
func (c *Client) LockAccount(ctx context.Context, account common.Address) (bool, error) {
	ctx, finish := c.begin(ctx, "ledger.account", "personal_lockAccount")
	var locked bool
	if err := c.backend.CallContext(ctx, &locked, "personal_lockAccount", account); err != nil {
		err = newRPCError("personal_lockAccount", err)
		finish(err)
		return false, err
	}
	finish(nil)
	return locked, nil
}

// Estates returns every estate known to the contract, ordered by index.
func (c *Client) Estates(ctx context.Context, caller common.Address) ([]Estate, error) {
	out, err := c.Read(ctx, caller, MethodGetEstates)
	if err != nil {
		return nil, err
	}
	var tuples []estateTuple
	if err := convertFirst(out, &tuples); err != nil {
		return nil, newRPCError(MethodGetEstates, err)
	}
	estates := make([]Estate, 0, len(tuples))
	for i, t := range tuples {
		estates = append(estates, t.toEstate(uint64(i)))
	}
	return estates, nil
}

// Ads returns every advertisement known to the contract, ordered by index.
func (c *Client) Ads(ctx context.Context, caller common.Address) ([]Ad, error) {
	out, err := c.Read(ctx, caller, MethodGetAds)
	if err != nil {
		return nil, err
	}
	var tuples []adTuple
	if err := convertFirst(out, &tuples); err != nil {
		return nil, newRPCError(MethodGetAds, err)
	}
	ads := make([]Ad, 0, len(tuples))
	for i, t := range tuples {
		ads = append(ads, t.toAd(uint64(i)))
	}
	return ads, nil
}

// Balance returns the contract-held balance of caller in wei.
func (c *Client) Balance(ctx context.Context, caller common.Address) (*big.Int, error) {
	out, err := c.Read(ctx, caller, MethodGetBalance)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := convertFirst(out, &balance); err != nil {
		return nil, newRPCError(MethodGetBalance, err)
	}
	if balance == nil {
		return new(big.Int), nil
	}
	return balance, nil
}

// convertFirst copies the first decoded return value into dst. abi.ConvertType
// panics on layout mismatches, which here means the node's contract does not
// match the descriptor.
func convertFirst(values []interface{}, dst interface{}) (err error) {
	if len(values) == 0 {
		return errors.New("empty result")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected result layout: %v", r)
		}
	}()
	abi.ConvertType(values[0], dst)
	return nil
}

func (c *Client) begin(ctx context.Context, span, method string) (context.Context, func(error)) {
	ctx, s := c.tracer.Start(ctx, span, trace.WithAttributes(
		attribute.String("ledger.method", method),
		attribute.String("ledger.contract", c.contract.Hex()),
	))
	spanCtx := ctx
	started := time.Now()
	cancel := func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func(err error) {
		if err != nil {
			s.RecordError(err)
			s.SetStatus(codes.Error, err.Error())
		}
		c.metrics.record(spanCtx, strings.TrimPrefix(span, "ledger."), method, time.Since(started), err)
		cancel()
		s.End()
	}
}

func hexValue(value *big.Int) *hexutil.Big {
	if value == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set(value))
}
