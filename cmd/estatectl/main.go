package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"estateagency/cmd/internal/passphrase"
	"estateagency/journal"
	"estateagency/ledger"
	"estateagency/marketplace"
	"estateagency/observability/logging"
	"estateagency/session"
)

// marketplaceAPI is the slice of the orchestrator the CLI drives.
type marketplaceAPI interface {
	ListEstates(ctx context.Context, account string) ([]ledger.Estate, error)
	CreateEstate(ctx context.Context, account, secret string, draft marketplace.EstateDraft) (common.Hash, error)
	ListAds(ctx context.Context, account string) ([]ledger.Ad, error)
	CreateAd(ctx context.Context, account string, estateID uint64, priceEther string) (common.Hash, error)
	BuyEstate(ctx context.Context, account string, adID uint64) (marketplace.Purchase, error)
	Deposit(ctx context.Context, account, amountEther string) (common.Hash, error)
	Withdraw(ctx context.Context, account, amountEther string) (common.Hash, error)
	Transfer(ctx context.Context, account, receiver, amountEther string) (common.Hash, error)
	UpdateEstateStatus(ctx context.Context, account string, estateID uint64, active bool) (common.Hash, error)
	UpdateAdStatus(ctx context.Context, account string, adID uint64, status ledger.AdStatus) (common.Hash, error)
	Balance(ctx context.Context, account string) (marketplace.Balance, error)
	Login(ctx context.Context, account, secret string) (session.Capability, error)
	Logout(ctx context.Context, account string) error
	Activity(ctx context.Context, account string, limit int) ([]journal.Entry, error)
}

// secretSource yields the account secret on demand.
type secretSource interface {
	Get() (string, error)
}

var (
	openMarketplace = dialMarketplace
	newSecretSource = func(envVar string) secretSource {
		return passphrase.NewSource(envVar, "Enter account secret: ")
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("estatectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage()) }
	profilePath := fs.String("profile", "", "path to the TOML profile (default "+defaultProfile+" or $"+profileEnv+")")
	account := fs.String("account", "", "account address overriding the profile")
	verbose := fs.Bool("v", false, "log ledger calls to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage())
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprint(stderr, usage())
		return 2
	}

	path, explicit := strings.TrimSpace(*profilePath), true
	if path == "" {
		path = strings.TrimSpace(os.Getenv(profileEnv))
	}
	if path == "" {
		path, explicit = defaultProfile, false
	}
	prof, err := loadProfile(path, explicit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if strings.TrimSpace(*account) != "" {
		prof.Account = strings.TrimSpace(*account)
	}
	if err := prof.validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = logging.SetupWriter(stderr, "estatectl", "dev", logging.FileConfig{})
	}
	svc, closeFn, err := openMarketplace(ctx, prof, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	env := &cmdEnv{
		ctx:     ctx,
		svc:     svc,
		account: prof.Account,
		secrets: newSecretSource(prof.SecretEnv),
		stdout:  stdout,
		stderr:  stderr,
	}
	return cmd.run(env, rest[1:])
}

// dialMarketplace wires the ledger client, session manager and optional
// journal into a marketplace service.
func dialMarketplace(ctx context.Context, prof profile, logger *slog.Logger) (marketplaceAPI, func(), error) {
	client, err := ledger.Dial(ctx, ledger.Config{
		Endpoint:        prof.Ledger.Endpoint,
		ContractAddress: prof.Ledger.ContractAddress,
		ABIFile:         prof.Ledger.ABIFile,
		CallTimeout:     prof.Ledger.CallTimeout,
	}, ledger.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){client.Close}
	opts := []marketplace.Option{marketplace.WithLogger(logger)}
	if strings.TrimSpace(prof.Journal.DSN) != "" {
		store, err := journal.Open(prof.Journal.Driver, prof.Journal.DSN)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("open journal: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		opts = append(opts, marketplace.WithJournal(store))
	}
	sessions := session.NewManager(client,
		session.WithUnlockDuration(prof.Ledger.UnlockDuration),
		session.WithLogger(logger),
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return marketplace.NewService(client, sessions, opts...), closeAll, nil
}

func usage() string {
	var b strings.Builder
	b.WriteString("Usage: estatectl [-profile path] [-account 0x...] [-v] <command> [flags]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(&b, "  %-14s %s\n", name, commands[name].summary)
	}
	b.WriteString("\nThe account secret is read from $" + passphrase.DefaultEnv + " (or the profile's SecretEnv) or prompted for.\n")
	return b.String()
}
