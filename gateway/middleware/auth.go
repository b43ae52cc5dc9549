package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
)

type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	TokenTTL   time.Duration
	ClockSkew  time.Duration
}

type contextKey string

const accountKey contextKey = "gateway.account"

// AccountParam is the chi URL parameter holding the account address.
const AccountParam = "account"

var (
	errMissingToken    = errors.New("missing bearer token")
	errAccountMismatch = errors.New("token does not belong to this account")
)

// Authenticator issues session tokens on login and checks them on
// account-scoped routes.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		now:    time.Now,
	}
}

// Enabled reports whether tokens are issued and enforced.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.cfg.Enabled
}

// Issue signs a session token for account. It returns an empty token when
// auth is disabled.
func (a *Authenticator) Issue(account common.Address) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, nil
	}
	if len(a.secret) == 0 {
		return "", time.Time{}, errors.New("auth secret not configured")
	}
	now := a.now()
	expires := now.Add(a.cfg.TokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   strings.ToLower(account.Hex()),
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// RequireAccount rejects requests whose bearer token subject differs from the
// {account} URL parameter.
func (a *Authenticator) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		account, err := a.Authorize(r, chi.URLParam(r, AccountParam))
		if err != nil {
			a.Reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, account)))
	})
}

// Authorize checks that the bearer token on r was issued to account. It
// returns the zero address and no error when auth is disabled.
func (a *Authenticator) Authorize(r *http.Request, account string) (common.Address, error) {
	if !a.Enabled() {
		return common.Address{}, nil
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return common.Address{}, errMissingToken
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return common.Address{}, err
	}
	account = strings.TrimSpace(account)
	if !common.IsHexAddress(account) || !strings.EqualFold(claims.Subject, common.HexToAddress(account).Hex()) {
		return common.Address{}, errAccountMismatch
	}
	return common.HexToAddress(account), nil
}

// AccountFromContext returns the account authenticated by RequireAccount.
func AccountFromContext(ctx context.Context) (common.Address, bool) {
	account, ok := ctx.Value(accountKey).(common.Address)
	return account, ok
}

// Reject answers 401 for an Authorize failure.
func (a *Authenticator) Reject(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Warn("auth: request rejected",
		slog.String("path", r.URL.Path),
		slog.String("reason", err.Error()))
	message := "invalid token"
	if errors.Is(err, errMissingToken) {
		message = err.Error()
	}
	http.Error(w, message, http.StatusUnauthorized)
}

func (a *Authenticator) parseToken(tokenString string) (*jwt.RegisteredClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
