package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentmesh/governance_layer/applications/maintenance"
	"github.com/agentmesh/governance_layer/applications/tools"
	"github.com/agentmesh/governance_layer/infrastructure/config"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config)")
	configPath := flag.String("config", "", "path to a YAML configuration file")
	dataRoot := flag.String("data", "", "data root directory (overrides config/env)")
	flag.Parse()

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if trimmed := strings.TrimSpace(*dataRoot); trimmed != "" {
		cfg.Data.Root = trimmed
	}

	logger := logging.New("governance", cfg.LogLevel, cfg.LogFormat)

	svc, err := tools.NewService(cfg, logger)
	if err != nil {
		log.Fatalf("initialise service: %v", err)
	}

	sched, err := maintenance.New(logger, svc.Metrics(), svc.Locks(), svc.Dialectic(), svc.StartedAt())
	if err != nil {
		log.Fatalf("initialise maintenance: %v", err)
	}
	sched.Start()

	listenAddr := determineAddr(*addr, cfg)
	server := &http.Server{
		Addr:         listenAddr,
		Handler:      svc.Router(),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
	}

	go func() {
		logger.WithFields(map[string]interface{}{"addr": listenAddr}).Info("governance layer listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sched.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Fatalf("flush on shutdown: %v", err)
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
}
