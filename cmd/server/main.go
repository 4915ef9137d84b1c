package main

import (
	"os"

	"framecast/pkg/config"
	"framecast/pkg/logger"
	"framecast/pkg/media"
	"framecast/pkg/server"
	"framecast/pkg/store"
)

func main() {
	cfg := config.LoadServer()
	logger.Setup(cfg.LogLevel)
	log := logger.WithComponent("main")

	users, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Errorf("user store: %v", err)
		os.Exit(1)
	}

	catalog, err := media.OpenCatalog(cfg.VideosDir)
	if err != nil {
		log.Errorf("video catalog: %v", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		ListenAddr:    cfg.ListenAddr,
		MaxConns:      cfg.MaxConns,
		SocketTimeout: cfg.SocketTimeout,
	}, users, catalog)

	if err := srv.ListenAndServe(); err != nil {
		log.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
}
