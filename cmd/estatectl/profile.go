package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"estateagency/cmd/internal/passphrase"
)

const (
	defaultProfile    = "./estatectl.toml"
	profileEnv        = "ESTATECTL_PROFILE"
	defaultEndpoint   = "http://127.0.0.1:8545"
	defaultJournalDrv = "sqlite"
)

// profile is the operator's TOML configuration. Account may be overridden
// per invocation with -account.
type profile struct {
	Account   string         `toml:"Account"`
	SecretEnv string         `toml:"SecretEnv"`
	Ledger    ledgerProfile  `toml:"Ledger"`
	Journal   journalProfile `toml:"Journal"`
}

type ledgerProfile struct {
	Endpoint        string        `toml:"Endpoint"`
	ContractAddress string        `toml:"ContractAddress"`
	ABIFile         string        `toml:"ABIFile"`
	UnlockDuration  time.Duration `toml:"UnlockDuration"`
	CallTimeout     time.Duration `toml:"CallTimeout"`
}

type journalProfile struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// loadProfile reads path when it exists. A missing default profile is not an
// error so that everything can come from flags and the environment.
func loadProfile(path string, explicit bool) (profile, error) {
	var p profile
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return p.withDefaults(), nil
		}
		return profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	meta, err := toml.DecodeFile(path, &p)
	if err != nil {
		return profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return profile{}, fmt.Errorf("profile %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return p.withDefaults(), nil
}

func (p profile) withDefaults() profile {
	if strings.TrimSpace(p.Ledger.Endpoint) == "" {
		p.Ledger.Endpoint = defaultEndpoint
	}
	if strings.TrimSpace(p.SecretEnv) == "" {
		p.SecretEnv = passphrase.DefaultEnv
	}
	if strings.TrimSpace(p.Journal.Driver) == "" {
		p.Journal.Driver = defaultJournalDrv
	}
	return p
}

func (p profile) validate() error {
	if !common.IsHexAddress(strings.TrimSpace(p.Ledger.ContractAddress)) {
		return fmt.Errorf("Ledger.ContractAddress %q is not a hex address", p.Ledger.ContractAddress)
	}
	if strings.TrimSpace(p.Account) == "" {
		return fmt.Errorf("no account selected; set Account in the profile or pass -account")
	}
	return nil
}
