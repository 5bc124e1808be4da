// Package tests runs the desktop client against the stand-in API end to end.
package tests

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/devapi"
	"github.com/kolbeh/desktop/internal/devapi/db"
	"github.com/kolbeh/desktop/internal/devapi/repo"
)

// Fixture is the seed every end-to-end test starts from.
const Fixture = `
users:
  - phone: "09120000000"
    first_name: Sara
    last_name: Ahmadi
    balance: 1250000
    point_balance: 40
    desktops:
      - id: vm-1001
        title: Office Workstation
        cpu: 4
        ram: 8
        storage: 100
        status: running
        status_title: Running
        image: Windows 10
        plan: Standard
        country: Iran
        vdi_url: https://vdi.example/vm-1001
      - id: vm-1002
        title: Build Box
        cpu: 8
        ram: 16
        storage: 250
        status: stopped
        status_title: Stopped
        image: Ubuntu 22.04
        plan: Pro
        country: Germany
        vdi_url: https://vdi.example/vm-1002
`

// OpenStores returns Postgres stores when DATABASE_URL is set and in-memory
// stores otherwise, seeded with Fixture. The returned func releases them.
func OpenStores(ctx context.Context) (repo.Stores, func(), error) {
	stores := repo.NewMemory()
	release := func() {}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		conn, err := db.Open(ctx, dsn, zap.NewNop())
		if err != nil {
			return repo.Stores{}, nil, err
		}
		if err := db.Migrate(conn); err != nil {
			conn.Close()
			return repo.Stores{}, nil, err
		}
		if err := db.Truncate(conn); err != nil {
			conn.Close()
			return repo.Stores{}, nil, err
		}
		stores = repo.NewPostgres(conn)
		release = func() { conn.Close() }
	}

	seed, err := repo.LoadSeed(strings.NewReader(Fixture))
	if err != nil {
		release()
		return repo.Stores{}, nil, err
	}
	if err := seed.Apply(ctx, stores); err != nil {
		release()
		return repo.Stores{}, nil, fmt.Errorf("apply fixture: %w", err)
	}
	return stores, release, nil
}

// Server is a running stand-in API.
type Server struct {
	*httptest.Server
	App *devapi.App
}

// BaseURL is the API root the client is configured with.
func (s *Server) BaseURL() string { return s.URL + "/v1" }

// NewServer starts the stand-in API over stores in dev mode.
func NewServer(stores repo.Stores, otpLength int) *Server {
	app := devapi.New(stores, devapi.Options{
		JWTSecret: "test-jwt-secret-at-least-32-characters-long",
		OTPSalt:   "test-otp-salt",
		OTPLength: otpLength,
		DevMode:   true,
	}, zap.NewNop())
	return &Server{Server: httptest.NewServer(app.Handler), App: app}
}

// Close stops the server and its background work.
func (s *Server) Close() {
	s.Server.Close()
	s.App.Close()
}
