package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Contract method names exposed by the marketplace contract.
const (
	MethodGetEstates         = "getEstates"
	MethodCreateEstate       = "createEstate"
	MethodGetAds             = "getAds"
	MethodCreateAd           = "createAd"
	MethodBuyEstate          = "buyEstate"
	MethodAddFunds           = "addFunds"
	MethodWithdraw           = "withdraw"
	MethodUpdateEstateStatus = "updateEstateStatus"
	MethodUpdateAdStatus     = "updateAdStatus"
	MethodGetBalance         = "getBalance"
)

// EstateType is the zero-based estate category stored on the ledger.
type EstateType uint8

const (
	EstateHouse EstateType = iota
	EstateApartment
	EstateLoft
)

// EstateTypeCount is the number of categories the contract knows about.
const EstateTypeCount = 3

func (t EstateType) String() string {
	switch t {
	case EstateHouse:
		return "house"
	case EstateApartment:
		return "apartment"
	case EstateLoft:
		return "loft"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// AdStatus is the advertisement state as reported by the ledger. Values other
// than Open and Closed are contract-defined and passed through unchanged.
type AdStatus uint8

const (
	AdOpen AdStatus = iota
	AdClosed
)

func (s AdStatus) String() string {
	switch s {
	case AdOpen:
		return "open"
	case AdClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Estate mirrors a property entry returned by getEstates. ID is the position
// of the entry in the ledger's list.
type Estate struct {
	ID       uint64         `json:"id"`
	Size     *big.Int       `json:"size"`
	PhotoURL string         `json:"photoUrl"`
	Rooms    *big.Int       `json:"rooms"`
	Type     EstateType     `json:"type"`
	Active   bool           `json:"active"`
	Owner    common.Address `json:"owner"`
}

// Ad mirrors a sale advertisement returned by getAds. Price is denominated in
// wei.
type Ad struct {
	ID        uint64         `json:"id"`
	Owner     common.Address `json:"owner"`
	Buyer     common.Address `json:"buyer"`
	Price     *big.Int       `json:"price"`
	EstateID  *big.Int       `json:"estateId"`
	CreatedAt time.Time      `json:"createdAt"`
	Status    AdStatus       `json:"status"`
}

// estateTuple and adTuple follow the ABI component layout so abi.ConvertType
// can populate them field by field.
type estateTuple struct {
	Size     *big.Int       `json:"size"`
	PhotoUrl string         `json:"photoUrl"`
	Rooms    *big.Int       `json:"rooms"`
	EsType   uint8          `json:"esType"`
	IsActive bool           `json:"isActive"`
	Owner    common.Address `json:"owner"`
}

type adTuple struct {
	Owner    common.Address `json:"owner"`
	Buyer    common.Address `json:"buyer"`
	Price    *big.Int       `json:"price"`
	EstateId *big.Int       `json:"estateId"`
	DateTime *big.Int       `json:"dateTime"`
	AdStatus uint8          `json:"adStatus"`
}

func (t estateTuple) toEstate(id uint64) Estate {
	return Estate{
		ID:       id,
		Size:     nonNil(t.Size),
		PhotoURL: t.PhotoUrl,
		Rooms:    nonNil(t.Rooms),
		Type:     EstateType(t.EsType),
		Active:   t.IsActive,
		Owner:    t.Owner,
	}
}

func (t adTuple) toAd(id uint64) Ad {
	ad := Ad{
		ID:       id,
		Owner:    t.Owner,
		Buyer:    t.Buyer,
		Price:    nonNil(t.Price),
		EstateID: nonNil(t.EstateId),
		Status:   AdStatus(t.AdStatus),
	}
	if t.DateTime != nil && t.DateTime.IsInt64() && t.DateTime.Sign() > 0 {
		ad.CreatedAt = time.Unix(t.DateTime.Int64(), 0).UTC()
	}
	return ad
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
