package marketplace

import (
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/text/unicode/norm"

	"estateagency/ledger"
)

// EstateDraft carries the user-facing fields of a new estate. Type is
// one-based: 1 house, 2 apartment, 3 loft.
type EstateDraft struct {
	Size     int64  `json:"size"`
	PhotoURL string `json:"photoUrl"`
	Rooms    int64  `json:"rooms"`
	Type     int    `json:"type"`
}

// Validate checks the draft and returns the zero-based ledger type.
func (d EstateDraft) Validate() (ledger.EstateType, error) {
	if d.Size <= 0 {
		return 0, invalid("size", "must be a positive integer")
	}
	if d.Rooms <= 0 {
		return 0, invalid("rooms", "must be a positive integer")
	}
	if d.Type < 1 || d.Type > ledger.EstateTypeCount {
		return 0, invalid("type", "must be between 1 and %d", ledger.EstateTypeCount)
	}
	return ledger.EstateType(d.Type - 1), nil
}

// Photo returns the trimmed photo URL in Unicode NFC form.
func (d EstateDraft) Photo() string {
	return norm.NFC.String(strings.TrimSpace(d.PhotoURL))
}

// ParseAccount validates a hex account address.
func ParseAccount(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalid(field, "%q is not a hex address", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseIndex parses a non-negative integer identifier such as an estate or
// ad id.
func ParseIndex(field, raw string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, invalid(field, "must be a non-negative integer")
	}
	return v, nil
}

// ParsePositive parses a strictly positive integer such as a size or room
// count.
func ParsePositive(field, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, invalid(field, "must be a positive integer")
	}
	return v, nil
}

// ParseEstateType parses the one-based estate category.
func ParseEstateType(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 1 || v > ledger.EstateTypeCount {
		return 0, invalid("type", "must be between 1 and %d", ledger.EstateTypeCount)
	}
	return v, nil
}

// ParseEstateStatus accepts active/inactive and true/false.
func ParseEstateStatus(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "true":
		return true, nil
	case "inactive", "false":
		return false, nil
	default:
		return false, invalid("status", "must be active or inactive")
	}
}

// ParseAdStatus accepts the named statuses or any value that fits in a byte;
// unknown values are passed to the ledger unchanged.
func ParseAdStatus(raw string) (ledger.AdStatus, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	switch trimmed {
	case "open":
		return ledger.AdOpen, nil
	case "closed":
		return ledger.AdClosed, nil
	}
	v, err := strconv.ParseUint(trimmed, 10, 8)
	if err != nil || v > math.MaxUint8 {
		return 0, invalid("status", "must be open, closed or a value between 0 and 255")
	}
	return ledger.AdStatus(v), nil
}
