package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"codecast/collabd/internal/broadcast"
	"codecast/collabd/internal/config"
	"codecast/collabd/internal/gateway"
	"codecast/collabd/internal/identity"
	"codecast/collabd/internal/registry"
	"codecast/collabd/internal/store"
	"codecast/collabd/internal/tlsutil"
	"codecast/collabd/pkg/logger"
)

func main() {
	// Parse command line flags and get configuration
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatalf("Error parsing configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)

	// Set up the TLS certificate if needed
	if cfg.TLS.Enabled && cfg.TLS.GenerateCert {
		if err := tlsutil.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile); err != nil {
			log.Fatalf("Failed to set up TLS certificate: %v", err)
		}
	}

	// Open the durable session store
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer st.Close()

	// Load the editor roster and keep it hot-reloaded
	roster, err := identity.LoadRoster(cfg.RosterFile)
	if err != nil {
		log.Fatalf("Failed to load roster: %v", err)
	}
	if err := roster.Watch(); err != nil {
		log.Fatalf("Failed to watch roster file: %v", err)
	}
	defer roster.Close()

	// Fan-out: Redis pub/sub when configured, in-process hub otherwise
	var caster broadcast.Broadcaster
	if cfg.RedisAddr != "" {
		caster, err = broadcast.NewRedis(context.Background(), cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		logger.Info("using redis fan-out", "addr", cfg.RedisAddr)
	} else {
		caster = broadcast.NewHub()
		logger.Info("using in-process fan-out")
	}
	defer caster.Close()

	reg := registry.New(st, roster)
	gw := gateway.New(cfg, reg, roster, caster)
	router := gw.Routes()

	// Start server with or without TLS
	addr := fmt.Sprintf(":%d", cfg.Port)
	if cfg.TLS.Enabled {
		log.Printf("collabd listening at https://localhost%s", addr)
		log.Printf("Session data directory: %s", cfg.DataDir)
		log.Printf("Using TLS certificate: %s", cfg.TLS.CertFile)
		log.Fatal(http.ListenAndServeTLS(addr, cfg.TLS.CertFile, cfg.TLS.KeyFile, router))
	} else {
		log.Printf("collabd listening at http://localhost%s", addr)
		log.Printf("Session data directory: %s", cfg.DataDir)
		log.Fatal(http.ListenAndServe(addr, router))
	}
}
