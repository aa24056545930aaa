package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kacperjurak/lawfit/internal/controller"
	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/gateway"
	"github.com/kacperjurak/lawfit/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		log.Fatal("❌ Failed to load configuration: ", err)
	}

	client := gateway.NewClient(cfg.BackendURL, cfg)
	ctrl := controller.New(client, controller.Options{Quiet: cfg.Quiet})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := ctrl.RefreshModelFiles(ctx); err != nil {
		log.Printf("⚠️  Backend at %s not reachable yet: %v", cfg.BackendURL, err)
	}
	cancel()

	site, err := web.New(cfg, ctrl)
	if err != nil {
		log.Fatal("❌ Failed to create web server: ", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           site.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("🛑 Received shutdown signal...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("🌐 UI listening on :%s (backend %s)", cfg.Port, cfg.BackendURL)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("❌ Failed to start UI: ", err)
	}
}

// parseFlags builds the UI configuration from defaults, an optional YAML
// file and command line flags, in increasing precedence.
func parseFlags() (*config.UIConfig, error) {
	cfg := config.DefaultUIConfig()
	var configPath string

	flag.StringVar(&configPath, "config", "", "YAML configuration file")
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flag.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "Backend base URL")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Timeout for each backend call (0 disables)")
	flag.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Suppress verbose output")
	flag.Parse()

	if configPath == "" {
		return cfg, nil
	}
	if err := config.Load(configPath, cfg); err != nil {
		return nil, err
	}
	flag.Parse()
	return cfg, nil
}
