package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kacperjurak/lawfit/pkg/config"
	"github.com/kacperjurak/lawfit/pkg/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := parseFlags()
	if err != nil {
		log.Fatal("❌ Failed to load configuration: ", err)
	}

	srv, err := server.New(server.Options{Config: cfg})
	if err != nil {
		log.Fatal("❌ Failed to create server: ", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("❌ Failed to start server: ", err)
		}
	case <-sig:
		log.Println("🛑 Received shutdown signal...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

// parseFlags builds the configuration from defaults, an optional YAML file
// and command line flags, in increasing precedence.
func parseFlags() (*config.Config, error) {
	cfg := config.DefaultConfig()
	var configPath string

	flag.StringVar(&configPath, "config", "", "YAML configuration file")
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Directory for uploads and saved models")
	flag.IntVar(&cfg.WorkerCount, "threads", cfg.WorkerCount, "Number of fitting workers")
	flag.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Suppress verbose output")
	flag.BoolVar(&cfg.EnableProfiling, "profile", cfg.EnableProfiling, "Enable pprof profiling")
	flag.StringVar(&cfg.FitMethod, "method", cfg.FitMethod, "Default optimization method (nm, lm, lbfgs, all)")
	flag.Parse()

	if configPath == "" {
		return cfg, nil
	}
	if err := config.Load(configPath, cfg); err != nil {
		return nil, err
	}
	// Explicit flags win over the file.
	flag.Parse()
	return cfg, nil
}
