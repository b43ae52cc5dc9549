package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"estateagency/ledger"
	"estateagency/marketplace"
)

type cmdEnv struct {
	ctx     context.Context
	svc     marketplaceAPI
	account string
	secrets secretSource
	stdout  io.Writer
	stderr  io.Writer
}

type command struct {
	summary string
	run     func(env *cmdEnv, args []string) int
}

var commandOrder = []string{
	"estates", "ads", "balance", "activity",
	"create-estate", "create-ad", "buy",
	"deposit", "withdraw", "transfer",
	"estate-status", "ad-status",
	"login", "logout",
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"estates":       {"list every estate on the ledger", runEstates},
		"ads":           {"list every advertisement", runAds},
		"balance":       {"show the account's contract balance", runBalance},
		"activity":      {"show journalled transactions for the account", runActivity},
		"create-estate": {"register an estate (-size -rooms -type -photo)", runCreateEstate},
		"create-ad":     {"advertise an estate (-estate -price)", runCreateAd},
		"buy":           {"buy the estate behind an advertisement (-ad)", runBuy},
		"deposit":       {"add ether to the contract balance (-amount)", runDeposit},
		"withdraw":      {"withdraw ether from the contract balance (-amount)", runWithdraw},
		"transfer":      {"send ether to another account (-to -amount)", runTransfer},
		"estate-status": {"activate or deactivate an estate (-estate -status)", runEstateStatus},
		"ad-status":     {"set an advertisement's status (-ad -status)", runAdStatus},
		"login":         {"unlock the account on the node", runLogin},
		"logout":        {"lock the account on the node", runLogout},
	}
}

func newFlagSet(env *cmdEnv, name string) *flag.FlagSet {
	fs := flag.NewFlagSet("estatectl "+name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

// parseFlags rejects positional arguments the way every subcommand expects.
func parseFlags(env *cmdEnv, fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(env.stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

// fail prints the user-facing notice for err and returns the exit code.
func fail(env *cmdEnv, err error) int {
	fmt.Fprintln(env.stderr, marketplace.Notice(err))
	if marketplace.KindOf(err) == marketplace.KindInvalidInput {
		return 2
	}
	return 1
}

func confirm(env *cmdEnv, op marketplace.Operation, receipt common.Hash, err error) int {
	if err != nil {
		return fail(env, err)
	}
	fmt.Fprintln(env.stdout, marketplace.Confirmation(op, receipt))
	return 0
}

func runEstates(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "estates")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if !parseFlags(env, fs, args) {
		return 2
	}
	estates, err := env.svc.ListEstates(env.ctx, env.account)
	if err != nil {
		return fail(env, err)
	}
	if *asJSON {
		return writeJSON(env, estates)
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSIZE\tROOMS\tACTIVE\tOWNER\tPHOTO")
	for _, e := range estates {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n", e.ID, e.Type, e.Size, e.Rooms, e.Active, e.Owner.Hex(), e.PhotoURL)
	}
	_ = tw.Flush()
	return 0
}

func runAds(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "ads")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if !parseFlags(env, fs, args) {
		return 2
	}
	ads, err := env.svc.ListAds(env.ctx, env.account)
	if err != nil {
		return fail(env, err)
	}
	if *asJSON {
		return writeJSON(env, ads)
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tESTATE\tPRICE (ETH)\tSTATUS\tOWNER\tBUYER")
	for _, ad := range ads {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", ad.ID, ad.EstateID, ledger.WeiToEther(ad.Price), ad.Status, ad.Owner.Hex(), ad.Buyer.Hex())
	}
	_ = tw.Flush()
	return 0
}

func runBalance(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "balance")
	if !parseFlags(env, fs, args) {
		return 2
	}
	balance, err := env.svc.Balance(env.ctx, env.account)
	if err != nil {
		return fail(env, err)
	}
	fmt.Fprintln(env.stdout, balance.Notice())
	return 0
}

func runActivity(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "activity")
	limit := fs.Int("limit", 20, "maximum number of entries")
	if !parseFlags(env, fs, args) {
		return 2
	}
	entries, err := env.svc.Activity(env.ctx, env.account, *limit)
	if err != nil {
		return fail(env, err)
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tVALUE (WEI)\tTX\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), e.Operation, e.ValueWei, e.TxHash, e.Detail)
	}
	_ = tw.Flush()
	return 0
}

func runCreateEstate(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "create-estate")
	size := fs.String("size", "", "floor area")
	rooms := fs.String("rooms", "", "number of rooms")
	estateType := fs.String("type", "", "1=house 2=apartment 3=loft")
	photo := fs.String("photo", "", "photo URL")
	if !parseFlags(env, fs, args) {
		return 2
	}
	var draft marketplace.EstateDraft
	var err error
	if draft.Size, err = marketplace.ParsePositive("size", *size); err != nil {
		return fail(env, err)
	}
	if draft.Rooms, err = marketplace.ParsePositive("rooms", *rooms); err != nil {
		return fail(env, err)
	}
	if draft.Type, err = marketplace.ParseEstateType(*estateType); err != nil {
		return fail(env, err)
	}
	draft.PhotoURL = *photo
	if _, err := draft.Validate(); err != nil {
		return fail(env, err)
	}
	secret, err := env.secrets.Get()
	if err != nil {
		fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return 1
	}
	receipt, err := env.svc.CreateEstate(env.ctx, env.account, secret, draft)
	return confirm(env, marketplace.OpCreateEstate, receipt, err)
}

func runCreateAd(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "create-ad")
	estate := fs.String("estate", "", "estate id")
	price := fs.String("price", "", "asking price in ether")
	if !parseFlags(env, fs, args) {
		return 2
	}
	estateID, err := marketplace.ParseIndex("estate id", *estate)
	if err != nil {
		return fail(env, err)
	}
	receipt, err := env.svc.CreateAd(env.ctx, env.account, estateID, *price)
	return confirm(env, marketplace.OpCreateAd, receipt, err)
}

func runBuy(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "buy")
	ad := fs.String("ad", "", "advertisement id")
	if !parseFlags(env, fs, args) {
		return 2
	}
	adID, err := marketplace.ParseIndex("ad id", *ad)
	if err != nil {
		return fail(env, err)
	}
	purchase, err := env.svc.BuyEstate(env.ctx, env.account, adID)
	if err != nil {
		return fail(env, err)
	}
	fmt.Fprintln(env.stdout, purchase.Notice())
	return 0
}

func runDeposit(env *cmdEnv, args []string) int {
	amount, ok := amountFlag(env, "deposit", args)
	if !ok {
		return 2
	}
	receipt, err := env.svc.Deposit(env.ctx, env.account, amount)
	return confirm(env, marketplace.OpDeposit, receipt, err)
}

func runWithdraw(env *cmdEnv, args []string) int {
	amount, ok := amountFlag(env, "withdraw", args)
	if !ok {
		return 2
	}
	receipt, err := env.svc.Withdraw(env.ctx, env.account, amount)
	return confirm(env, marketplace.OpWithdraw, receipt, err)
}

func amountFlag(env *cmdEnv, name string, args []string) (string, bool) {
	fs := newFlagSet(env, name)
	amount := fs.String("amount", "", "amount in ether")
	if !parseFlags(env, fs, args) {
		return "", false
	}
	return *amount, true
}

func runTransfer(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "transfer")
	to := fs.String("to", "", "receiving account")
	amount := fs.String("amount", "", "amount in ether")
	if !parseFlags(env, fs, args) {
		return 2
	}
	receipt, err := env.svc.Transfer(env.ctx, env.account, *to, *amount)
	return confirm(env, marketplace.OpTransfer, receipt, err)
}

func runEstateStatus(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "estate-status")
	estate := fs.String("estate", "", "estate id")
	status := fs.String("status", "", "active or inactive")
	if !parseFlags(env, fs, args) {
		return 2
	}
	estateID, err := marketplace.ParseIndex("estate id", *estate)
	if err != nil {
		return fail(env, err)
	}
	active, err := marketplace.ParseEstateStatus(*status)
	if err != nil {
		return fail(env, err)
	}
	receipt, err := env.svc.UpdateEstateStatus(env.ctx, env.account, estateID, active)
	return confirm(env, marketplace.OpUpdateEstateStatus, receipt, err)
}

func runAdStatus(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "ad-status")
	ad := fs.String("ad", "", "advertisement id")
	status := fs.String("status", "", "open, closed or a numeric status")
	if !parseFlags(env, fs, args) {
		return 2
	}
	adID, err := marketplace.ParseIndex("ad id", *ad)
	if err != nil {
		return fail(env, err)
	}
	adStatus, err := marketplace.ParseAdStatus(*status)
	if err != nil {
		return fail(env, err)
	}
	receipt, err := env.svc.UpdateAdStatus(env.ctx, env.account, adID, adStatus)
	return confirm(env, marketplace.OpUpdateAdStatus, receipt, err)
}

func runLogin(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "login")
	if !parseFlags(env, fs, args) {
		return 2
	}
	secret, err := env.secrets.Get()
	if err != nil {
		fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return 1
	}
	capability, err := env.svc.Login(env.ctx, env.account, secret)
	if err != nil {
		return fail(env, err)
	}
	msg := marketplace.Confirmation(marketplace.OpLogin, common.Hash{})
	if capability.Renewed {
		msg += " The account was already unlocked."
	}
	fmt.Fprintln(env.stdout, msg)
	return 0
}

func runLogout(env *cmdEnv, args []string) int {
	fs := newFlagSet(env, "logout")
	if !parseFlags(env, fs, args) {
		return 2
	}
	if err := env.svc.Logout(env.ctx, env.account); err != nil {
		return fail(env, err)
	}
	fmt.Fprintln(env.stdout, marketplace.Confirmation(marketplace.OpLogout, common.Hash{}))
	return 0
}

func writeJSON(env *cmdEnv, v interface{}) int {
	enc := json.NewEncoder(env.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(env.stderr, "Error: %v\n", strings.TrimSpace(err.Error()))
		return 1
	}
	return 0
}
