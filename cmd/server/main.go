package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/screenshare/backend/internal/admission"
	"github.com/screenshare/backend/internal/capture"
	"github.com/screenshare/backend/internal/config"
	"github.com/screenshare/backend/internal/desktop"
	"github.com/screenshare/backend/internal/frame"
	"github.com/screenshare/backend/internal/perf"
	"github.com/screenshare/backend/internal/tunnel"
	"github.com/screenshare/backend/internal/viewer"
	"github.com/screenshare/backend/internal/web"
)

// shutdownGrace bounds how long workers and in-flight requests get to
// finish after a termination signal.
const shutdownGrace = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults apply when unset)")
	port := flag.Int("port", 0, "Override web server port")
	desktopPort := flag.Int("desktop-port", 0, "Override desktop protocol port")
	mockMode := flag.Bool("mock", false, "Use the synthetic frame source instead of the screen")
	noApproval := flag.Bool("no-approval", false, "Admit verified viewers without operator approval")
	tunnelProvider := flag.String("tunnel", "", "Expose the web port publicly (cloudflared or ngrok)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	if *port > 0 {
		cfg.Web.Port = *port
	}
	if *desktopPort > 0 {
		cfg.Desktop.Port = *desktopPort
	}
	if *mockMode {
		cfg.Capture.Source = "synthetic"
	}
	if *noApproval {
		cfg.Security.RequireApproval = false
	}
	if *tunnelProvider != "" {
		cfg.Tunnel.Provider = *tunnelProvider
	}

	// Configuration faults are fatal before anything binds.
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	tiers, err := cfg.TierTable()
	if err != nil {
		log.Fatalf("Invalid quality table: %v", err)
	}

	code, err := admission.GenerateCode(cfg.Security.CodeLength)
	if err != nil {
		log.Fatalf("Failed to generate security code: %v", err)
	}

	var source capture.Source
	switch cfg.Capture.Source {
	case "synthetic":
		log.Println("Using synthetic frame source")
		source = capture.NewSynthetic(cfg.Capture.Width, cfg.Capture.Height)
	default:
		source, err = capture.NewScreenSource()
		if err != nil {
			log.Fatalf("Failed to open screen source: %v", err)
		}
	}

	registry := viewer.NewRegistry()
	cache := frame.NewCache(tiers)
	loop := capture.NewLoop(source, cache, registry, cfg.Rates.Capture)

	var decider admission.Decider
	if cfg.Security.RequireApproval {
		decider = admission.NewConsoleDecider(os.Stdin, os.Stdout)
	}
	manager := admission.NewManager(code, cfg.Security.RequireApproval, cfg.Security.ApprovalTimeout, decider)

	collector := perf.NewCollector()
	events := web.NewEventHub(registry, loop.RateState)
	webServer := web.NewServer(manager, registry, cache, loop, cfg.Rates.Delivery, collector, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()
	workerDone := make(chan struct{})
	go func() {
		manager.RunWorker(ctx)
		close(workerDone)
	}()
	go events.Run(ctx.Done())

	// Sessions that verified but never opened a stream would otherwise count
	// as viewers forever and drag the adaptive rate down for everyone.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := registry.ReapIdle(cfg.Security.SessionTTL); n > 0 {
					log.Printf("Removed %d idle sessions", n)
				}
			}
		}
	}()

	if cfg.Desktop.Enabled {
		desktopServer := desktop.NewServer(manager, registry, cache, cfg.Rates.Delivery, collector)
		go func() {
			if err := desktopServer.ListenAndServe(ctx, cfg.Desktop.Host, cfg.Desktop.Port); err != nil {
				log.Fatalf("Desktop server error: %v", err)
			}
		}()
	}

	printBanner(manager.Code(), cfg)

	if cfg.Tunnel.Provider != "" {
		tun, err := tunnel.Launch(ctx, cfg.Tunnel.Provider, cfg.Web.Port)
		if err != nil {
			log.Printf("Tunnel unavailable, continuing LAN-only: %v", err)
		} else {
			defer tun.Stop()
			fmt.Printf("Public URL: %s\n\n", tun.PublicURL)
		}
	}

	mux := http.NewServeMux()
	webServer.SetupRoutes(mux)
	srv := web.NewHTTPServer(cfg.Web.Host, cfg.Web.Port, mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Web server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Web server error: %v", err)
	}

	// The cancelled context stops the capture loop and approval worker; wait
	// so the capture source and any tunnel child release cleanly.
	grace := time.After(shutdownGrace)
	for _, done := range []<-chan struct{}{loopDone, workerDone} {
		select {
		case <-done:
		case <-grace:
		}
	}
	log.Println("Shutdown complete")
}

func printBanner(code string, cfg *config.Config) {
	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Printf("SECURITY CODE: %s\n", code)
	fmt.Println(line)
	fmt.Println("Share this code with people who want to view your screen")
	fmt.Printf("Web viewers:     http://localhost:%d\n", cfg.Web.Port)
	if cfg.Desktop.Enabled {
		fmt.Printf("Desktop viewers: port %d\n", cfg.Desktop.Port)
	}
	if cfg.Security.RequireApproval {
		fmt.Println("Each connection requires your approval")
	}
	fmt.Println(line)
}
