package routes

import (
	"time"

	"estateagency/ledger"
	"estateagency/marketplace"
)

type estateView struct {
	ID       uint64 `json:"id"`
	Size     string `json:"size"`
	PhotoURL string `json:"photoUrl"`
	Rooms    string `json:"rooms"`
	Type     int    `json:"type"`
	TypeName string `json:"typeName"`
	Active   bool   `json:"active"`
	Owner    string `json:"owner"`
}

// newEstateViews renders estates with the one-based type users submit.
func newEstateViews(estates []ledger.Estate) []estateView {
	out := make([]estateView, 0, len(estates))
	for _, e := range estates {
		out = append(out, estateView{
			ID:       e.ID,
			Size:     e.Size.String(),
			PhotoURL: e.PhotoURL,
			Rooms:    e.Rooms.String(),
			Type:     int(e.Type) + 1,
			TypeName: e.Type.String(),
			Active:   e.Active,
			Owner:    e.Owner.Hex(),
		})
	}
	return out
}

type adView struct {
	ID         uint64    `json:"id"`
	Owner      string    `json:"owner"`
	Buyer      string    `json:"buyer"`
	PriceWei   string    `json:"priceWei"`
	PriceEther string    `json:"priceEther"`
	EstateID   string    `json:"estateId"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     uint8     `json:"status"`
	StatusName string    `json:"statusName"`
}

func newAdViews(ads []ledger.Ad) []adView {
	out := make([]adView, 0, len(ads))
	for _, a := range ads {
		out = append(out, adView{
			ID:         a.ID,
			Owner:      a.Owner.Hex(),
			Buyer:      a.Buyer.Hex(),
			PriceWei:   a.Price.String(),
			PriceEther: ledger.WeiToEther(a.Price),
			EstateID:   a.EstateID.String(),
			CreatedAt:  a.CreatedAt,
			Status:     uint8(a.Status),
			StatusName: a.Status.String(),
		})
	}
	return out
}

type balanceView struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

func newBalanceView(b marketplace.Balance) balanceView {
	return balanceView{Wei: b.Wei.String(), Ether: b.Ether}
}

type purchaseView struct {
	Receipt    string `json:"receipt,omitempty"`
	Executed   bool   `json:"executed"`
	PriceWei   string `json:"priceWei"`
	BalanceWei string `json:"balanceWei"`
}

func newPurchaseView(p marketplace.Purchase) purchaseView {
	view := purchaseView{
		Executed:   p.Executed,
		PriceWei:   p.Price.String(),
		BalanceWei: p.Balance.String(),
	}
	if p.Executed {
		view.Receipt = p.Receipt.Hex()
	}
	return view
}

type receiptView struct {
	Receipt string `json:"receipt"`
}

type dashboardView struct {
	Account string       `json:"account"`
	Balance balanceView  `json:"balance"`
	Estates []estateView `json:"estates"`
	Ads     []adView     `json:"ads"`
}

type loginView struct {
	Account   string     `json:"account"`
	Renewed   bool       `json:"renewed"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
