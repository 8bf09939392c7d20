// Package app composes and runs the relying party process boundary.
//
// It wires configuration, the credential vault, SQLite storage, the session
// store, the ceremony orchestrator, and the HTTP surface into one server so
// identity decisions are made from a single source of truth.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/passkey-rp/internal/httpapi"
	"github.com/louisbranch/passkey-rp/internal/rp/ceremony"
	"github.com/louisbranch/passkey-rp/internal/rp/challenge"
	rpconfig "github.com/louisbranch/passkey-rp/internal/rp/config"
	"github.com/louisbranch/passkey-rp/internal/rp/replay"
	"github.com/louisbranch/passkey-rp/internal/rp/session"
	"github.com/louisbranch/passkey-rp/internal/rp/storage/sqlite"
	"github.com/louisbranch/passkey-rp/internal/rp/timing"
	"github.com/louisbranch/passkey-rp/internal/rp/vault"
	"github.com/louisbranch/passkey-rp/internal/rp/webauthnverify"
)

const shutdownTimeout = 5 * time.Second

// Server hosts the relying party HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
}

// New composes a configured server listening on the configured address.
func New(cfg rpconfig.Config) (*Server, error) {
	key, err := cfg.CredentialKey()
	if err != nil {
		return nil, fmt.Errorf("load credential key: %w", err)
	}
	sealer, err := vault.New(key, cfg.RPID)
	if err != nil {
		return nil, fmt.Errorf("build credential vault: %w", err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	verifier, err := webauthnverify.New(webauthnverify.Config{
		RPID:      cfg.RPID,
		RPName:    cfg.RPName,
		RPOrigins: cfg.RPOrigins,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build verifier: %w", err)
	}

	ceremonies, err := ceremony.New(ceremony.Params{
		RPID:           cfg.RPID,
		RPName:         cfg.RPName,
		ChallengeTTL:   cfg.ChallengeTTL,
		Users:          store,
		Credentials:    store,
		Vault:          sealer,
		Ledger:         challenge.NewLedger(cfg.ChallengeTTL),
		Shield:         timing.NewShield(sealer),
		Guard:          replay.NewGuard(store),
		Registration:   verifier,
		Authentication: verifier,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build ceremony service: %w", err)
	}

	api, err := httpapi.New(httpapi.Params{
		Ceremonies:    ceremonies,
		Sessions:      session.NewStore(cfg.SessionTTL),
		SessionSecret: cfg.SessionSecret,
		SessionTTL:    cfg.SessionTTL,
		CookieSecure:  allOriginsHTTPS(cfg.RPOrigins),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build http api: %w", err)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the HTTP server until the context ends, then shuts down
// gracefully and closes the store.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("relying party listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}

	select {
	case err := <-serveErr:
		return handleErr(err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return handleErr(<-serveErr)
	}
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, cfg rpconfig.Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

func allOriginsHTTPS(origins []string) bool {
	if len(origins) == 0 {
		return false
	}
	for _, origin := range origins {
		if !strings.HasPrefix(strings.TrimSpace(origin), "https://") {
			return false
		}
	}
	return true
}
