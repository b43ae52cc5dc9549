// Package session obtains and revokes per-account signing capabilities on the
// ledger node.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"estateagency/ledger"
	"estateagency/observability/logging"
)

// ErrUnlockFailed is returned when the node refuses to grant a signing
// capability for an account.
var ErrUnlockFailed = errors.New("unlock failed")

// alreadyUnlockedMarker is matched case-insensitively against node errors.
// Some node clients report a repeat unlock as an error even though the
// account is usable; no structured status is exposed for it over
// personal_unlockAccount, so the message text is the only signal.
const alreadyUnlockedMarker = "already unlocked"

// Node is the account surface of the ledger client.
type Node interface {
	UnlockAccount(ctx context.Context, account common.Address, secret string, duration time.Duration) (bool, error)
	LockAccount(ctx context.Context, account common.Address) (bool, error)
}

// Capability proves the node will sign transactions for Account. Its
// lifetime is governed entirely by the node's unlock window.
type Capability struct {
	Account   common.Address
	GrantedAt time.Time
	// Renewed reports that the node signalled the account was already
	// unlocked.
	Renewed bool
}

// Option customises a Manager.
type Option func(*Manager)

// WithUnlockDuration sets the unlock window requested from the node. Zero
// keeps the node default.
func WithUnlockDuration(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.duration = d
		}
	}
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp capabilities.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.nowFn = now
		}
	}
}

// Manager hands out signing capabilities backed by node-side unlocks.
type Manager struct {
	node     Node
	duration time.Duration
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewManager constructs a session manager around the node account API.
func NewManager(node Node, opts ...Option) *Manager {
	if node == nil {
		panic("session: node required")
	}
	m := &Manager{node: node, logger: slog.Default(), nowFn: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Unlock obtains a signing capability for account. A node response saying the
// account is already unlocked counts as success.
func (m *Manager) Unlock(ctx context.Context, account common.Address, secret string) (Capability, error) {
	unlocked, err := m.node.UnlockAccount(ctx, account, secret, m.duration)
	if err != nil {
		if IsAlreadyUnlocked(err) {
			m.logger.Info("account already unlocked", slog.String("account", account.Hex()))
			return Capability{Account: account, GrantedAt: m.nowFn(), Renewed: true}, nil
		}
		m.logger.Warn("account unlock failed",
			slog.String("account", account.Hex()),
			logging.MaskField("secret", secret),
			slog.String("error", err.Error()))
		return Capability{}, fmt.Errorf("%w: %w", ErrUnlockFailed, err)
	}
	if !unlocked {
		m.logger.Warn("node declined account unlock", slog.String("account", account.Hex()))
		return Capability{}, fmt.Errorf("%w: node declined to unlock %s", ErrUnlockFailed, account.Hex())
	}
	m.logger.Info("account unlocked", slog.String("account", account.Hex()))
	return Capability{Account: account, GrantedAt: m.nowFn()}, nil
}

// Revoke locks account on the node ahead of its unlock window.
func (m *Manager) Revoke(ctx context.Context, account common.Address) error {
	locked, err := m.node.LockAccount(ctx, account)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", account.Hex(), err)
	}
	if !locked {
		return fmt.Errorf("revoke %s: %w: node does not manage this account", account.Hex(), ledger.ErrRPCFailure)
	}
	m.logger.Info("account locked", slog.String("account", account.Hex()))
	return nil
}

// IsAlreadyUnlocked reports whether err is the node's repeat-unlock signal.
func IsAlreadyUnlocked(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), alreadyUnlockedMarker)
}
