package ledger

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed contract.abi.json
var defaultABI []byte

var requiredMethods = []string{
	MethodGetEstates,
	MethodCreateEstate,
	MethodGetAds,
	MethodCreateAd,
	MethodBuyEstate,
	MethodAddFunds,
	MethodWithdraw,
	MethodUpdateEstateStatus,
	MethodUpdateAdStatus,
	MethodGetBalance,
}

// LoadABI parses the contract interface descriptor at path, falling back to
// the embedded marketplace ABI when path is empty. The descriptor must expose
// every method the orchestrator relies on.
func LoadABI(path string) (abi.ABI, error) {
	raw := defaultABI
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		contents, err := os.ReadFile(trimmed)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("read contract abi: %w", err)
		}
		raw = contents
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse contract abi: %w", err)
	}
	for _, name := range requiredMethods {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, fmt.Errorf("contract abi missing method %s", name)
		}
	}
	return parsed, nil
}
