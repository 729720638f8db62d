// Package server wires the presence service and hosts its HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/presence.space/internal/platform/otel"
	"github.com/louisbranch/presence.space/internal/services/presence/api/rest"
	"github.com/louisbranch/presence.space/internal/services/presence/biometric"
	"github.com/louisbranch/presence.space/internal/services/presence/ceremony"
	"github.com/louisbranch/presence.space/internal/services/presence/challenge"
	"github.com/louisbranch/presence.space/internal/services/presence/flow"
	"github.com/louisbranch/presence.space/internal/services/presence/geofence"
	"github.com/louisbranch/presence.space/internal/services/presence/session"
	"github.com/louisbranch/presence.space/internal/services/presence/storage/sqlite"
)

// Server hosts the presence HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	sessions   *session.Store
	ledger     *challenge.Ledger
}

// New creates a configured presence server listening on the provided address.
func New(httpAddr string) (*Server, error) {
	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	store, err := openPresenceStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	ceremonyConfig := ceremony.LoadConfigFromEnv()
	provider, err := ceremony.NewProvider(ceremonyConfig)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	biometricConfig := biometric.LoadConfigFromEnv()
	verifier := biometric.NewExecVerifier(biometricConfig)
	orchestrator := biometric.NewOrchestrator(verifier, store, store, biometricConfig.VerifyTimeout)

	fence, err := geofence.NewValidatorFromConfig(geofence.LoadConfigFromEnv())
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("configure geofence: %w", err)
	}

	sessionConfig := session.LoadConfigFromEnv()
	sessions := session.NewStore(sessionConfig.TTL)
	codec, err := session.NewTokenCodec(sessionSecret(sessionConfig))
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	ledger := challenge.NewLedger(store, ceremonyConfig.ChallengeTTL)

	flows, err := flow.New(flow.Deps{
		Users:             store,
		Credentials:       store,
		Templates:         store,
		Attendance:        store,
		Sessions:          sessions,
		Ledger:            ledger,
		Orchestrator:      orchestrator,
		Verifier:          verifier,
		Fence:             fence,
		Provider:          provider,
		EnrollmentSamples: biometricConfig.EnrollmentSamples,
	})
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	handler, err := rest.NewHandler(flows, sessions, codec, uploadDir())
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: handler.Routes()},
		store:      store,
		sessions:   sessions,
		ledger:     ledger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a presence server until the context ends.
func Run(ctx context.Context, httpAddr string) error {
	server, err := New(httpAddr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	shutdownOtel, err := otel.Setup(serverCtx, "presence")
	if err != nil {
		log.Printf("otel setup: %v", err)
	}
	if shutdownOtel != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOtel(shutdownCtx)
		}()
	}

	s.sessions.StartCleanup(serverCtx, time.Minute)
	s.startChallengeSweep(serverCtx, time.Minute)

	log.Printf("presence server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startChallengeSweep drops expired challenges until the context ends.
func (s *Server) startChallengeSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.ledger.Sweep(ctx); err != nil {
					log.Printf("sweep challenges: %v", err)
				}
			}
		}
	}()
}

func openPresenceStore() (*sqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("PRESENCE_SPACE_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "presence.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open presence sqlite store: %w", err)
	}
	return store, nil
}

func uploadDir() string {
	dir := strings.TrimSpace(os.Getenv("PRESENCE_SPACE_UPLOAD_DIR"))
	if dir == "" {
		dir = "uploads"
	}
	return dir
}

// sessionSecret falls back to an ephemeral secret when none is configured.
// Sessions then die with the process, which is acceptable for development.
func sessionSecret(cfg session.Config) []byte {
	if secret := strings.TrimSpace(cfg.Secret); secret != "" {
		return []byte(secret)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Printf("generate session secret: %v", err)
		return []byte("presence-dev-secret")
	}
	log.Printf("PRESENCE_SPACE_SESSION_SECRET not set; using ephemeral secret")
	return []byte(hex.EncodeToString(buf))
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close presence store: %v", err)
	}
}
