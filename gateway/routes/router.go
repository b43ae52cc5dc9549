package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"estateagency/gateway/middleware"
	"estateagency/journal"
	"estateagency/ledger"
	"estateagency/marketplace"
	"estateagency/session"
)

// Marketplace is the orchestrator surface served over HTTP.
type Marketplace interface {
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
	Unlock(ctx context.Context, account, secret string) (session.Capability, error)
	Logout(ctx context.Context, account string) error
	Activity(ctx context.Context, account string, limit int) ([]journal.Entry, error)
}

type Config struct {
	Marketplace   Marketplace
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          *middleware.CORSConfig
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Marketplace == nil {
		return nil, errors.New("routes: marketplace required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{Enabled: false}, logger)
	}
	h := &handlers{svc: cfg.Marketplace, auth: auth, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Global)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	r.Post("/login", h.login)
	r.Post("/logout", h.logout)

	r.Route("/accounts/{"+middleware.AccountParam+"}", func(sr chi.Router) {
		sr.Post("/unlock", h.unlock)
		sr.Group(func(pr chi.Router) {
			pr.Use(auth.RequireAccount)
			pr.Get("/", h.dashboard)
			pr.Get("/estates", h.listEstates)
			pr.Post("/estates", h.createEstate)
			pr.Post("/estates/{estateID}/status", h.updateEstateStatus)
			pr.Get("/ads", h.listAds)
			pr.Post("/ads", h.createAd)
			pr.Post("/ads/{adID}/status", h.updateAdStatus)
			pr.Post("/purchases", h.buyEstate)
			pr.Post("/deposits", h.deposit)
			pr.Post("/withdrawals", h.withdraw)
			pr.Post("/transfers", h.transfer)
			pr.Get("/balance", h.balance)
			pr.Get("/activity", h.activity)
			pr.Post("/logout", h.logout)
		})
	})

	return r, nil
}
