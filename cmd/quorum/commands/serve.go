package commands

import (
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/quorumlabs/quorum/internal/browser"
	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/council"
	"github.com/quorumlabs/quorum/internal/event"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/router"
	"github.com/quorumlabs/quorum/internal/server"
	"github.com/quorumlabs/quorum/internal/storage"
)

var serveHTTPAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the coordinator as an MCP tool server over stdio",
	Long: `Serve exposes the deliberation tools over stdio for MCP clients.
With --http an additional read-only status API is served; it never
mutates sessions.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "Also serve a read-only status API on this address (e.g. 127.0.0.1:7780)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deps, cleanup := buildDeps(cfg)
	defer cleanup()

	if serveHTTPAddr != "" {
		httpSrv := &http.Server{
			Addr:              serveHTTPAddr,
			Handler:           server.NewHTTPHandler(deps),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Info().Str("addr", serveHTTPAddr).Msg("status API listening")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error().Err(err).Msg("status API stopped")
			}
		}()
	}

	logging.Info().
		Str("project", cfg.Project).
		Str("stateRoot", cfg.StateRoot).
		Msg("serving deliberation tools over stdio")

	return mcpserver.ServeStdio(server.New(deps))
}

// buildDeps wires the full dependency graph for one process.
func buildDeps(cfg *config.Config) (server.Deps, func()) {
	store := storage.NewStore(cfg.SessionsDir(), cfg.MirrorDir(), cfg.ArchiveDir())
	locks := storage.NewLockManager(cfg.LocksDir(), cfg.LockStaleAge)
	svc := council.NewService(cfg, store, locks)

	selectors := browser.NewSelectorStore(cfg.ProvidersDir())
	port := browser.NewAdapter(cfg, selectors)

	unsubscribe := event.SubscribeAll(func(ev event.Event) {
		logging.Debug().Str("event", string(ev.Type)).Msg("bus event")
	})
	cleanup := func() {
		unsubscribe()
		selectors.Close()
	}

	return server.Deps{
		Config:    cfg,
		Council:   svc,
		Router:    router.NewRouter(cfg, svc, port),
		Discovery: router.NewDiscovery(cfg, selectors),
		Port:      port,
	}, cleanup
}
