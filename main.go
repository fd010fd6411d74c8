package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/antibyte/retroforth/pkg/configuration"
	"github.com/antibyte/retroforth/pkg/console"
	"github.com/antibyte/retroforth/pkg/forth"
	"github.com/antibyte/retroforth/pkg/logger"
	"github.com/antibyte/retroforth/pkg/resources"
	"github.com/antibyte/retroforth/pkg/store"
	"github.com/antibyte/retroforth/pkg/terminal"
	tlsmanager "github.com/antibyte/retroforth/pkg/tls"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "settings.cfg", "path to the configuration file")
	consoleMode := flag.Bool("console", false, "run one interpreter session on this terminal")
	historyFile := flag.String("history", "", "readline history file for -console")
	flag.Parse()

	// Initialize configuration (before all other initializations)
	if err := configuration.Initialize(*configPath); err != nil {
		fmt.Printf("Error initializing configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.Info(logger.AreaConfig, "System started - Configuration loaded from: %s", *configPath)

	if *consoleMode {
		if err := runConsole(*historyFile); err != nil {
			fmt.Fprintf(os.Stderr, "console: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(); err != nil {
		logger.Error(logger.AreaGeneral, "Server stopped: %v", err)
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

// runConsole applies the same per-session limits the server uses.
func runConsole(historyFile string) error {
	limits := resources.LimitsFromConfig()
	return console.Run(console.Config{HistoryFile: historyFile},
		forth.WithMaxDepth(limits.MaxCallDepth),
		forth.WithStepLimit(limits.StepLimit),
		forth.WithMaxSleep(limits.MaxSleep),
	)
}

func runServer() error {
	dbPath := configuration.GetString("Database", "path", "retroforth.db")
	library, err := store.Open(dbPath)
	if err != nil {
		return errors.Wrap(err, "database initialization failed")
	}
	defer library.Close()
	logger.Info(logger.AreaDatabase, "Program library opened: %s", dbPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sm := resources.NewSessionManager()
	sm.StartPeriodicCleanup(ctx,
		configuration.GetDuration("Server", "cleanup_interval", time.Minute),
		configuration.GetDuration("Server", "max_inactive_time", 30*time.Minute))

	handler := terminal.NewTerminalHandler(sm, library)
	defer handler.Shutdown()

	tlsManager, err := tlsmanager.NewTLSManager()
	if err != nil {
		return errors.Wrap(err, "TLS manager initialization failed")
	}

	mux := newMux(handler, configuration.GetString("Server", "static_dir", "static"))
	if tlsManager.IsEnabled() {
		return startTLSServers(ctx, tlsManager, mux)
	}
	port := configuration.GetString("Server", "http_port", "8080")
	return startHTTPServer(ctx, port, mux)
}

func newMux(handler *terminal.TerminalHandler, staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)

	// Add favicon handler to prevent 404 errors in the log
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
		logger.Info(logger.AreaGeneral, "Serving static files from %s", filepath.Clean(staticDir))
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			logger.Debug(logger.AreaGeneral, "ROOT ROUTE: 404 for path: %s", r.URL.Path)
			http.NotFound(w, r)
		})
		logger.Warn(logger.AreaGeneral, "Static directory %s not found, only /ws is served", staticDir)
	}
	return mux
}

// serve runs srv until ctx ends, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, listen func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- listen() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info(logger.AreaGeneral, "Shutting down server on %s", srv.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// startHTTPServer starts the HTTP server
func startHTTPServer(ctx context.Context, port string, handler http.Handler) error {
	logger.Info(logger.AreaGeneral, "Starting HTTP server on port %s", port)
	srv := &http.Server{Addr: ":" + port, Handler: handler}
	return errors.Wrap(serve(ctx, srv, srv.ListenAndServe), "HTTP server")
}

// startTLSServers starts the HTTPS server and, when needed, the plain HTTP
// server for ACME challenges and redirects.
func startTLSServers(ctx context.Context, tlsManager *tlsmanager.TLSManager, handler http.Handler) error {
	httpPort := tlsManager.GetHTTPPort()
	httpsPort := tlsManager.GetHTTPSPort()
	logger.Info(logger.AreaSecurity, "Starting TLS-enabled servers - HTTP: %s, HTTPS: %s", httpPort, httpsPort)

	errc := make(chan error, 2)
	if tlsManager.NeedsHTTPServer() {
		if httpHandler := tlsManager.GetHTTPHandler(); httpHandler != nil {
			go func() {
				srv := &http.Server{Addr: ":" + httpPort, Handler: httpHandler}
				logger.Info(logger.AreaSecurity, "Starting HTTP server for Let's Encrypt challenges/redirects on port %s", httpPort)
				errc <- errors.Wrap(serve(ctx, srv, srv.ListenAndServe), "HTTP server")
			}()
		}
	}

	go func() {
		srv := &http.Server{
			Addr:      ":" + httpsPort,
			Handler:   handler,
			TLSConfig: tlsManager.GetTLSConfig(),
		}
		logger.Info(logger.AreaSecurity, "Starting HTTPS server on port %s (domain %q)", httpsPort, tlsManager.GetDomain())
		errc <- errors.Wrap(serve(ctx, srv, func() error { return srv.ListenAndServeTLS("", "") }), "HTTPS server")
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		// Let the servers finish their graceful shutdown
		return <-errc
	}
}
