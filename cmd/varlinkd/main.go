// Command varlinkd runs a minimal varlink service: it loads a config
// file (or falls back to defaults), registers the built-in introspection
// interface plus a trivial demo interface, and serves it over a Unix
// domain socket or a debug websocket endpoint until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/varlink/govarlink/internal/config"
	"github.com/varlink/govarlink/internal/logging"
	"github.com/varlink/govarlink/internal/schema"
	"github.com/varlink/govarlink/internal/service"
	"github.com/varlink/govarlink/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults if unset)")
	listenOverride := flag.String("listen", "", "override the configured listen address")
	validateEnvelopes := flag.Bool("validate-envelopes", false, "check every call/reply envelope against the embedded JSON Schema")
	flag.Parse()

	logging.SetDefaultLogger(newStdLogger())
	logger := logging.GetLogger("varlinkd")

	settings := config.New()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("varlinkd: failed to load config: %v", err)
		}
		settings = loaded
	}
	if *listenOverride != "" {
		settings.Listen.Address = *listenOverride
	}

	registry, err := service.NewRegistry(service.Info{
		Vendor:  settings.Service.Vendor,
		Product: settings.Service.Product,
		Version: settings.Service.Version,
		URL:     settings.Service.URL,
	}, logger)
	if err != nil {
		log.Fatalf("varlinkd: failed to build registry: %v", err)
	}
	if err := registerDemoInterface(registry); err != nil {
		log.Fatalf("varlinkd: failed to register demo interface: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	listener, httpServer, err := newListener(settings.Listen)
	if err != nil {
		log.Fatalf("varlinkd: failed to listen: %v", err)
	}

	srv := transport.NewServer(listener, registry, logger)
	if *validateEnvelopes {
		logger.Info("envelope schema validation enabled")
		srv.SetEnvelopeValidator(newEnvelopeValidator(ctx, logger))
	}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	if httpServer != nil {
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("websocket http server failed", "error", err)
			}
		}()
	}

	logger.Info("varlinkd listening", "network", settings.Listen.Network, "address", settings.Listen.Address)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("serve loop exited", "error", err)
		}
	}

	cancel()
	if err := srv.Close(); err != nil {
		logger.Error("error closing server", "error", err)
	}
	if httpServer != nil {
		_ = httpServer.Close()
	}
}

// newListener builds the transport.Listener named by cfg.Network. For
// "websocket" it also returns the *http.Server that must be started
// separately, since a WebsocketListener is driven by incoming HTTP
// requests rather than its own Accept loop on a socket.
func newListener(cfg config.ListenConfig) (transport.Listener, *http.Server, error) {
	switch cfg.Network {
	case "unix":
		ln, err := transport.ListenUnix(cfg.Address)
		if err != nil {
			return nil, nil, err
		}
		return ln, nil, nil
	case "websocket":
		wsListener := transport.NewWebsocketListener()
		mux := http.NewServeMux()
		mux.Handle("/", wsListener)
		httpServer := &http.Server{Addr: cfg.Address, Handler: mux}
		return wsListener, httpServer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported listen network %q (want \"unix\" or \"websocket\")", cfg.Network)
	}
}

func newEnvelopeValidator(ctx context.Context, logger logging.Logger) *schema.Validator {
	v := schema.NewValidator(logger)
	if err := v.Initialize(ctx); err != nil {
		log.Fatalf("varlinkd: failed to initialize schema validator: %v", err)
	}
	return v
}
