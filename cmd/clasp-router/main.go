// Command clasp-router runs the CLASP router: the WebSocket and
// WebTransport/QUIC protocol transports plus the REST admin surface, all
// sharing one in-process Router.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/lumencanvas/clasp/internal/httpapi"
	"github.com/lumencanvas/clasp/internal/router"
	"github.com/lumencanvas/clasp/internal/tokenstore"
	"github.com/lumencanvas/clasp/internal/transport/quictransport"
	"github.com/lumencanvas/clasp/internal/transport/wstransport"
	"github.com/lumencanvas/clasp/pkg/security"
)

func main() {
	wsAddr := flag.String("ws-addr", ":7780", "WebSocket listen address (empty to disable)")
	quicAddr := flag.String("quic-addr", ":7781", "QUIC/WebTransport listen address (empty to disable)")
	apiAddr := flag.String("api-addr", ":7782", "REST admin API listen address (empty to disable)")
	securityMode := flag.String("security", "open", "security mode: open or authenticated")
	tokenDB := flag.String("token-db", "clasp-tokens.db", "SQLite path for persisted CPSK tokens (Authenticated mode only)")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed QUIC TLS certificate validity")
	maxMessageSize := flag.Int("max-message-size", router.DefaultConfig().MaxMessageSize, "maximum decoded frame size in bytes")
	flag.Parse()

	mode, err := security.ParseMode(*securityMode)
	if err != nil {
		log.Fatalf("[clasp-router] %v", err)
	}

	cfg := router.DefaultConfig()
	cfg.SecurityMode = mode
	cfg.MaxMessageSize = *maxMessageSize

	var validator *security.CpskValidator
	var tokens *tokenstore.Store
	var validators *security.ValidatorChain
	if mode == security.ModeAuthenticated {
		validator = security.NewCpskValidator()
		validators = security.NewValidatorChain(validator)

		tokens, err = tokenstore.Open(*tokenDB)
		if err != nil {
			log.Fatalf("[clasp-router] %v", err)
		}
		defer tokens.Close()

		seeded, err := tokens.LoadAll(context.Background())
		if err != nil {
			log.Fatalf("[clasp-router] load persisted tokens: %v", err)
		}
		for tok, info := range seeded {
			validator.Register(tok, info)
		}
		log.Printf("[clasp-router] loaded %d persisted token(s)", len(seeded))
	}

	rt := router.New(cfg, validators)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[clasp-router] shutting down...")
		cancel()
	}()

	if *wsAddr != "" {
		ws := wstransport.New()
		mux := http.NewServeMux()
		mux.HandleFunc("/clasp", ws.Handler)
		srv := &http.Server{Addr: *wsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx) //nolint:errcheck
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("[clasp-router] websocket listener: %v", err)
			}
		}()
		go func() {
			if err := rt.Serve(ws); err != nil {
				log.Printf("[clasp-router] websocket accept loop stopped: %v", err)
			}
		}()
		log.Printf("[clasp-router] websocket transport listening on %s/clasp", *wsAddr)
	}

	if *quicAddr != "" {
		host, _, err := net.SplitHostPort(*quicAddr)
		if err != nil {
			host = ""
		}
		tlsConfig, fingerprint, err := quictransport.GenerateTLSConfig(*certValidity, host)
		if err != nil {
			log.Fatalf("[clasp-router] %v", err)
		}
		log.Printf("[clasp-router] QUIC TLS certificate fingerprint: %s", fingerprint)

		qt := quictransport.New(*quicAddr, tlsConfig)
		go func() {
			if err := qt.Serve(ctx); err != nil {
				log.Printf("[clasp-router] quic listener stopped: %v", err)
			}
		}()
		go func() {
			if err := rt.Serve(qt); err != nil {
				log.Printf("[clasp-router] quic accept loop stopped: %v", err)
			}
		}()
		log.Printf("[clasp-router] QUIC/WebTransport transport listening on %s/clasp", *quicAddr)
	}

	if *apiAddr != "" {
		api := httpapi.New(rt, validator, tokens)
		go api.Run(ctx, *apiAddr)
		log.Printf("[clasp-router] admin API listening on %s", *apiAddr)
	}

	log.Printf("[clasp-router] security mode: %s", mode)
	<-ctx.Done()
	// Give in-flight goroutines a moment to unwind their own shutdown paths.
	time.Sleep(200 * time.Millisecond)
}
