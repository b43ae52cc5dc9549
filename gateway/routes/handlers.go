package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"estateagency/gateway/middleware"
	"estateagency/marketplace"
)

const maxFormBytes = 1 << 20

type handlers struct {
	svc    Marketplace
	auth   *middleware.Authenticator
	logger *slog.Logger
}

func dashboardPath(account string) string {
	return "/accounts/" + account
}

func accountParam(r *http.Request) string {
	if account, ok := middleware.AccountFromContext(r.Context()); ok {
		return account.Hex()
	}
	return chi.URLParam(r, middleware.AccountParam)
}

// readForm merges query, urlencoded, multipart and flat JSON object inputs
// into one set of values.
func readForm(r *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		values := r.URL.Query()
		var body map[string]interface{}
		decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxFormBytes))
		decoder.UseNumber()
		if err := decoder.Decode(&body); err != nil {
			return nil, &marketplace.InputError{Reason: "request body is not a JSON object"}
		}
		for key, raw := range body {
			switch v := raw.(type) {
			case string:
				values.Set(key, v)
			case json.Number:
				values.Set(key, v.String())
			case bool:
				values.Set(key, strconv.FormatBool(v))
			case nil:
			default:
				values.Set(key, fmt.Sprint(v))
			}
		}
		return values, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormBytes); err != nil {
			return nil, &marketplace.InputError{Reason: "malformed multipart form"}
		}
		return r.Form, nil
	default:
		r.Body = http.MaxBytesReader(nil, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			return nil, &marketplace.InputError{Reason: "malformed form"}
		}
		return r.Form, nil
	}
}

// transaction runs a receipt-producing operation and renders its outcome.
func (h *handlers) transaction(w http.ResponseWriter, r *http.Request, op marketplace.Operation, status int, run func(form url.Values) (common.Hash, error)) {
	form, err := readForm(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	receipt, err := run(form)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, status, marketplace.Confirmation(op, receipt), dashboardPath(accountParam(r)), receiptView{Receipt: receipt.Hex()})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	form, err := readForm(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	capability, err := h.svc.Login(r.Context(), form.Get("account"), form.Get("secret"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	token, expires, err := h.auth.Issue(capability.Account)
	if err != nil {
		h.logger.Error("issue session token", slog.String("account", capability.Account.Hex()), slog.Any("error", err))
		writeFailure(w, r, err)
		return
	}
	view := loginView{Account: capability.Account.Hex(), Renewed: capability.Renewed, Token: token}
	if token != "" {
		view.ExpiresAt = &expires
	}
	writeSuccess(w, http.StatusOK, marketplace.Confirmation(marketplace.OpLogin, common.Hash{}), dashboardPath(capability.Account.Hex()), view)
}

func (h *handlers) unlock(w http.ResponseWriter, r *http.Request) {
	form, err := readForm(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	capability, err := h.svc.Unlock(r.Context(), accountParam(r), form.Get("secret"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, marketplace.Confirmation(marketplace.OpUnlock, common.Hash{}), dashboardPath(accountParam(r)),
		loginView{Account: capability.Account.Hex(), Renewed: capability.Renewed})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	form, err := readForm(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	account := accountParam(r)
	if account == "" {
		account = form.Get("account")
		if _, err := h.auth.Authorize(r, account); err != nil {
			h.auth.Reject(w, r, err)
			return
		}
	}
	if err := h.svc.Logout(r.Context(), account); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, marketplace.Confirmation(marketplace.OpLogout, common.Hash{}), "/", nil)
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	account := accountParam(r)
	balance, err := h.svc.Balance(r.Context(), account)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	estates, err := h.svc.ListEstates(r.Context(), account)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	ads, err := h.svc.ListAds(r.Context(), account)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", dashboardPath(account), dashboardView{
		Account: account,
		Balance: newBalanceView(balance),
		Estates: newEstateViews(estates),
		Ads:     newAdViews(ads),
	})
}

func (h *handlers) listEstates(w http.ResponseWriter, r *http.Request) {
	estates, err := h.svc.ListEstates(r.Context(), accountParam(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", r.URL.Path, newEstateViews(estates))
}

func (h *handlers) createEstate(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, marketplace.OpCreateEstate, http.StatusCreated, func(form url.Values) (common.Hash, error) {
		size, err := marketplace.ParsePositive("size", form.Get("size"))
		if err != nil {
			return common.Hash{}, err
		}
		rooms, err := marketplace.ParsePositive("rooms", form.Get("rooms"))
		if err != nil {
			return common.Hash{}, err
		}
		estateType, err := marketplace.ParseEstateType(form.Get("type"))
		if err != nil {
			return common.Hash{}, err
		}
		draft := marketplace.EstateDraft{Size: size, PhotoURL: form.Get("photo"), Rooms: rooms, Type: estateType}
		return h.svc.CreateEstate(r.Context(), accountParam(r), form.Get("secret"), draft)
	})
}

func (h *handlers) updateEstateStatus(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, marketplace.OpUpdateEstateStatus, http.StatusOK, func(form url.Values) (common.Hash, error) {
		estateID, err := marketplace.ParseIndex("estate id", chi.URLParam(r, "estateID"))
		if err != nil {
			return common.Hash{}, err
		}
		active, err := marketplace.ParseEstateStatus(form.Get("status"))
		if err != nil {
			return common.Hash{}, err
		}
		return h.svc.UpdateEstateStatus(r.Context(), accountParam(r), estateID, active)
	})
}

func (h *handlers) listAds(w http.ResponseWriter, r *http.Request) {
	ads, err := h.svc.ListAds(r.Context(), accountParam(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", r.URL.Path, newAdViews(ads))
}

func (h *handlers) createAd(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, marketplace.OpCreateAd, http.StatusCreated, func(form url.Values) (common.Hash, error) {
		estateID, err := marketplace.ParseIndex("estate id", form.Get("estateId"))
		if err != nil {
			return common.Hash{}, err
		}
		return h.svc.CreateAd(r.Context(), accountParam(r), estateID, form.Get("price"))
	})
}

func (h *handlers) updateAdStatus(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, marketplace.OpUpdateAdStatus, http.StatusOK, func(form url.Values) (common.Hash, error) {
		adID, err := marketplace.ParseIndex("ad id", chi.URLParam(r, "adID"))
		if err != nil {
			return common.Hash{}, err
		}
		status, err := marketplace.ParseAdStatus(form.Get("status"))
		if err != nil {
			return common.Hash{}, err
		}
		return h.svc.UpdateAdStatus(r.Context(), accountParam(r), adID, status)
	})
}

func (h *handlers) buyEstate(w http.ResponseWriter, r *http.Request) {
	form, err := readForm(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	adID, err := marketplace.ParseIndex("ad id", form.Get("adId"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	purchase, err := h.svc.BuyEstate(r.Context(), accountParam(r), adID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, purchase.Notice(), dashboardPath(accountParam(r)), newPurchaseView(purchase))
}

func (h *handlers) deposit(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, marketplace.OpDeposit, http.StatusOK, func(form url.Values) (common.Hash, error) {
		return h.svc.Deposit(r.Context(), accountParam(r), form.Get("amount"))
	})
}

func (h *handlers) withdraw(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, marketplace.OpWithdraw, http.StatusOK, func(form url.Values) (common.Hash, error) {
		return h.svc.Withdraw(r.Context(), accountParam(r), form.Get("amount"))
	})
}

func (h *handlers) transfer(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, marketplace.OpTransfer, http.StatusOK, func(form url.Values) (common.Hash, error) {
		return h.svc.Transfer(r.Context(), accountParam(r), form.Get("receiver"), form.Get("amount"))
	})
}

func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.Balance(r.Context(), accountParam(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, balance.Notice(), dashboardPath(accountParam(r)), newBalanceView(balance))
}

func (h *handlers) activity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := marketplace.ParseIndex("limit", raw)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		if parsed > math.MaxInt32 {
			parsed = math.MaxInt32
		}
		limit = int(parsed)
	}
	entries, err := h.svc.Activity(r.Context(), accountParam(r), limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", r.URL.Path, entries)
}
