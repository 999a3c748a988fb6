// Package server exposes the settlement engine over HTTP. Mutating requests
// are signed by the caller's key; the recovered address is the principal the
// engine authorises against.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nhowze/overunder/internal/application/settlement"
	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
)

const (
	defaultMaxSkew   = 5 * time.Minute
	defaultRate      = 5.0
	defaultBurst     = 10
	maxBodyBytes     = 1 << 20
	shutdownDeadline = 10 * time.Second
)

// Venue is the engine surface the API drives.
type Venue interface {
	OpenPool(ctx context.Context, req settlement.OpenPoolRequest, caller domain.Address) (domain.Pool, error)
	PublishResult(ctx context.Context, req settlement.PublishRequest, caller domain.Address) (domain.Pool, error)
	PlaceBet(ctx context.Context, req settlement.PlaceBetRequest, bettor domain.Address) (domain.Receipt, error)
	Claim(ctx context.Context, req settlement.ClaimRequest, caller domain.Address) (settlement.ClaimResult, error)
	WithdrawFees(ctx context.Context, pool domain.PoolID, recipient, caller domain.Address) (uint64, error)
	List(ctx context.Context, receipt domain.ReceiptID, seller domain.Address) (domain.Listing, error)
	Delist(ctx context.Context, receipt domain.ReceiptID, seller domain.Address) error
	Buy(ctx context.Context, req settlement.BuyRequest, buyer domain.Address) (domain.Receipt, error)
	Reclaim(ctx context.Context, receipt domain.ReceiptID, seller domain.Address) error
	Deposit(ctx context.Context, to domain.Address, amount uint64, caller domain.Address) error

	Pool(ctx context.Context, id domain.PoolID) (domain.Pool, error)
	Receipts(ctx context.Context, id domain.PoolID) ([]domain.Receipt, error)
	Receipt(ctx context.Context, id domain.ReceiptID) (domain.Receipt, error)
	Listing(ctx context.Context, id domain.ReceiptID) (domain.Listing, error)
	Balance(ctx context.Context, account domain.Account) (uint64, error)
}

var _ Venue = (*settlement.Engine)(nil)

// Config holds the HTTP server configuration.
type Config struct {
	Addr       string
	MaxSkew    time.Duration // accepted clock difference on X-Timestamp
	RatePerSec float64       // per-client-address token bucket refill
	Burst      int
	TrustProxy bool // take the client address from X-Forwarded-For / X-Real-IP
}

// Server is the HTTP API of the venue.
type Server struct {
	httpServer *http.Server
	venue      Venue
	ping       func(context.Context) error
	limits     *limiterSet
	nonces     ports.NonceStore
	trustProxy bool
	maxSkew    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewServer registers every route. nonces remembers signed requests already
// served; ping backs /healthz and may be nil.
func NewServer(cfg Config, venue Venue, nonces ports.NonceStore, ping func(context.Context) error, logger *slog.Logger) *Server {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = defaultMaxSkew
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		venue:      venue,
		ping:       ping,
		limits:     newLimiterSet(cfg.RatePerSec, cfg.Burst),
		nonces:     nonces,
		trustProxy: cfg.TrustProxy,
		maxSkew:    cfg.MaxSkew,
		now:        time.Now,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)

	mux.HandleFunc("POST /v1/pools", s.signed(s.openPool))
	mux.HandleFunc("GET /v1/pools/{pool}", s.getPool)
	mux.HandleFunc("GET /v1/pools/{pool}/receipts", s.listReceipts)
	mux.HandleFunc("POST /v1/pools/{pool}/bets", s.signed(s.placeBet))
	mux.HandleFunc("POST /v1/pools/{pool}/result", s.signed(s.publishResult))
	mux.HandleFunc("POST /v1/pools/{pool}/fees/withdraw", s.signed(s.withdrawFees))

	mux.HandleFunc("GET /v1/receipts/{receipt}", s.getReceipt)
	mux.HandleFunc("GET /v1/receipts/{receipt}/listing", s.getListing)
	mux.HandleFunc("POST /v1/receipts/{receipt}/claim", s.signed(s.claim))
	mux.HandleFunc("POST /v1/receipts/{receipt}/list", s.signed(s.list))
	mux.HandleFunc("POST /v1/receipts/{receipt}/delist", s.signed(s.delist))
	mux.HandleFunc("POST /v1/receipts/{receipt}/buy", s.signed(s.buy))
	mux.HandleFunc("POST /v1/receipts/{receipt}/reclaim", s.signed(s.reclaim))

	mux.HandleFunc("POST /v1/deposits", s.signed(s.deposit))
	mux.HandleFunc("GET /v1/accounts/{addr}/balance", s.balance)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      logging(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
