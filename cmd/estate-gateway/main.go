package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"estateagency/gateway/config"
	"estateagency/gateway/middleware"
	"estateagency/gateway/routes"
	"estateagency/journal"
	"estateagency/ledger"
	"estateagency/marketplace"
	"estateagency/observability/logging"
	telemetry "estateagency/observability/otel"
	"estateagency/session"
)

func main() {
	var cfgPath string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESTATE_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("estate-gateway", env, logging.FileConfig{}).Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("estate-gateway", env, logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if err := run(cfgPath, cfg, env, allowInsecureFlag, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string, cfg config.Config, env string, allowInsecure bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.Environment != "" {
		env = cfg.Observability.Environment
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: env,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    cfg.Observability.OTLPInsecure,
		Traces:      cfg.Observability.Tracing,
		Metrics:     cfg.Observability.Metrics,
		SampleRatio: cfg.Observability.SampleRatio,
	}.FromEnv())
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	dialCtx, cancelDial := context.WithTimeout(ctx, 15*time.Second)
	client, err := ledger.Dial(dialCtx, ledger.Config{
		Endpoint:        cfg.Ledger.Endpoint,
		ContractAddress: cfg.Ledger.ContractAddress,
		ABIFile:         resolvePath(configDir(cfgPath), cfg.Ledger.ABIFile),
		CallTimeout:     cfg.Ledger.CallTimeout,
	}, ledger.WithLogger(logger))
	cancelDial()
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("ledger connected", "endpoint", cfg.Ledger.Endpoint, "contract", client.Contract().Hex())

	sessions := session.NewManager(client,
		session.WithUnlockDuration(cfg.Ledger.UnlockDuration),
		session.WithLogger(logger),
	)

	serviceOpts := []marketplace.Option{marketplace.WithLogger(logger)}
	if cfg.Journal.Enabled() {
		store, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("journal close failed", "error", err)
			}
		}()
		serviceOpts = append(serviceOpts, marketplace.WithJournal(store))
		logger.Info("journal enabled", "driver", cfg.Journal.Driver)
	}
	service := marketplace.NewService(client, sessions, serviceOpts...)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger, prometheus.DefaultGatherer)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		TokenTTL:   cfg.Auth.TokenTTL,
		ClockSkew:  cfg.Auth.ClockSkew,
	}, logger)

	limits, order := rateLimits(cfg.RateLimits)

	var cors *middleware.CORSConfig
	if len(cfg.CORS.AllowedOrigins) > 0 {
		cors = &middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: cfg.CORS.AllowCredentials,
		}
	}

	router, err := routes.New(routes.Config{
		Marketplace:   service,
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(limits, logger, order...),
		Observability: obs,
		CORS:          cors,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	handler := router
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "estate-gateway")
	}

	tlsConfig, err := buildTLSConfig(configDir(cfgPath), cfg.Security)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil {
		if !allowInsecure {
			return errors.New("gateway TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
		}
		if !strings.EqualFold(env, "dev") && !isLoopbackAddress(cfg.ListenAddress) {
			return errors.New("plaintext gateway mode is restricted to loopback listeners or dev environment")
		}
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    tlsConfig,
	}

	listener, err := listen(cfg.ListenAddress, cfg.MaxConnections)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
		listener = tls.NewListener(listener, tlsConfig)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", fmt.Sprintf("%s://%s", scheme, listener.Addr()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

// listen opens the TCP listener, capped at maxConns concurrent connections
// when positive.
func listen(address string, maxConns int) (net.Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		listener = netutil.LimitListener(listener, maxConns)
	}
	return listener, nil
}

// rateLimits converts the configured limits and keeps their declaration
// order so the first matching path prefix wins. Without configuration the
// login form and account routes get conservative defaults.
func rateLimits(entries []config.RateLimitConfig) (map[string]middleware.RateLimit, []string) {
	limits := make(map[string]middleware.RateLimit)
	var order []string
	for _, entry := range entries {
		if entry.ID == "" {
			continue
		}
		if _, dup := limits[entry.ID]; !dup {
			order = append(order, entry.ID)
		}
		limits[entry.ID] = middleware.RateLimit{
			RatePerSecond:     entry.RatePerSecond,
			RequestsPerMinute: entry.RequestsPerMinute,
			Burst:             entry.Burst,
			Paths:             entry.Paths,
		}
	}
	if len(limits) == 0 {
		limits["login"] = middleware.RateLimit{RequestsPerMinute: 30, Burst: 5, Paths: []string{"/login"}}
		limits["accounts"] = middleware.RateLimit{RatePerSecond: 5, Burst: 20, Paths: []string{"/accounts"}}
		order = []string{"login", "accounts"}
	}
	return limits, order
}

func configDir(cfgPath string) string {
	if strings.TrimSpace(cfgPath) == "" {
		return ""
	}
	return filepath.Dir(cfgPath)
}

func buildTLSConfig(baseDir string, sec config.SecurityConfig) (*tls.Config, error) {
	certPath := resolvePath(baseDir, sec.TLSCertFile)
	keyPath := resolvePath(baseDir, sec.TLSKeyFile)
	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must both be provided when enabling TLS")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// resolvePath anchors relative paths at the config file's directory.
func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if baseDir == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
